// Package config reads the tmtokens configuration file. YAML, HCL and TOML
// are supported; the format is picked from the file extension.
package config

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/spf13/afero"
	"github.com/walteh/tmtokens/pkg/archive"
	"github.com/walteh/tmtokens/pkg/loader"
	"github.com/zclconf/go-cty/cty"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"
)

var ErrNoConfig = errors.Base("no config file found")

// FileNames are the names Find looks for, in order.
var FileNames = []string{"tmtokens.yaml", "tmtokens.yml", "tmtokens.hcl", "tmtokens.toml"}

type Config struct {
	// Grammars and Themes are doublestar globs relative to the config file.
	Grammars      []string          `yaml:"grammars,omitempty" hcl:"grammars,optional" toml:"grammars"`
	Themes        []string          `yaml:"themes,omitempty" hcl:"themes,optional" toml:"themes"`
	DefaultThemes []string          `yaml:"default_themes,omitempty" hcl:"default_themes,optional" toml:"default_themes"`
	Languages     map[string]string `yaml:"languages,omitempty" hcl:"languages,optional" toml:"languages"`
	// MatchTimeout is a Go duration string such as "250ms".
	MatchTimeout   string `yaml:"match_timeout,omitempty" hcl:"match_timeout,optional" toml:"match_timeout"`
	AllowErrors    bool   `yaml:"allow_errors,omitempty" hcl:"allow_errors,optional" toml:"allow_errors"`
	StrictAnalysis bool   `yaml:"strict_analysis,omitempty" hcl:"strict_analysis,optional" toml:"strict_analysis"`

	// Archives are .tar.gz grammar packs, relative to the config file. Their
	// files are searched with the same globs, on top of the config directory.
	Archives               []string `yaml:"archives,omitempty" hcl:"archives,optional" toml:"archives"`
	ArchiveStripComponents int      `yaml:"archive_strip_components,omitempty" hcl:"archive_strip_components,optional" toml:"archive_strip_components"`

	// Dir is the directory the config was loaded from.
	Dir string `yaml:"-" toml:"-"`
}

func Default() *Config {
	return &Config{
		DefaultThemes: []string{"fixture-light"},
		MatchTimeout:  "1s",
		AllowErrors:   true,
		Dir:           ".",
	}
}

func (c *Config) Timeout() (time.Duration, error) {
	if c.MatchTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.MatchTimeout)
	if err != nil {
		return 0, errors.Errorf("parsing match_timeout: %w", err)
	}
	return d, nil
}

// Loader returns a grammar and theme loader rooted at the config directory.
// Empty glob lists fall back to the loader defaults.
func (c *Config) Loader(ctx context.Context, fs afero.Fs) (*loader.FS, error) {
	root := fs
	if c.Dir != "" && c.Dir != "." {
		root = afero.NewBasePathFs(fs, c.Dir)
	}

	root, err := archive.Overlay(ctx, root, c.Archives, archive.Options{StripComponents: c.ArchiveStripComponents})
	if err != nil {
		return nil, errors.Errorf("loading grammar archives: %w", err)
	}

	return loader.New(root, loader.Options{
		GrammarGlobs: c.Grammars,
		ThemeGlobs:   c.Themes,
	}), nil
}

// Find looks for one of FileNames in dir and loads the first one present.
func Find(fs afero.Fs, dir string) (*Config, error) {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		ok, err := afero.Exists(fs, p)
		if err != nil {
			return nil, errors.Errorf("checking %s: %w", p, err)
		}
		if ok {
			return Load(fs, p)
		}
	}
	return nil, errors.Errorf("%w in %s", ErrNoConfig, dir)
}

// Resolve loads path when it is set, and otherwise looks in dir, falling back
// to Default when no config file exists there.
func Resolve(fs afero.Fs, path, dir string) (*Config, error) {
	if path != "" {
		return Load(fs, path)
	}
	cfg, err := Find(fs, dir)
	if errors.Is(err, ErrNoConfig) {
		cfg = Default()
		cfg.Dir = dir
		return cfg, nil
	}
	return cfg, err
}

// Load reads a config file. Unknown keys are errors.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Errorf("reading config file: %w", err)
	}

	var cfg Config

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, errors.Errorf("parsing YAML: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, errors.Errorf("parsing TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, errors.Errorf("parsing TOML: unknown keys %s", strings.Join(keys, ", "))
		}
	case ".hcl":
		parser := hclparse.NewParser()
		hclFile, diags := parser.ParseHCL(data, path)
		if diags.HasErrors() {
			return nil, errors.Errorf("parsing HCL: %s", diags.Error())
		}

		ctx := &hcl.EvalContext{
			Variables: map[string]cty.Value{
				"config_dir": cty.StringVal(filepath.Dir(path)),
			},
		}

		diags = gohcl.DecodeBody(hclFile.Body, ctx, &cfg)
		if diags.HasErrors() {
			return nil, errors.Errorf("decoding HCL: %s", diags.Error())
		}
	default:
		return nil, errors.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	cfg.Dir = filepath.Dir(path)

	if _, err := cfg.Timeout(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
