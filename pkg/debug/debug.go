// Package debug builds the CLI logger.
package debug

import (
	"fmt"
	"io"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// NewLogger returns a console logger with a millisecond timestamp and a short
// caller on every event.
func NewLogger(w io.Writer, level zerolog.Level, colorize bool) zerolog.Logger {
	out := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    !colorize,
		PartsOrder: []string{"time", "level", "caller", "message"},
		FieldsExclude: []string{
			"time",
			"caller",
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprintf("%v", i)
		},
	}
	out.FormatTimestamp = func(i interface{}) string {
		return fmt.Sprintf("%v", i)
	}

	return zerolog.New(out).
		Level(level).
		Hook(CustomTimeHook{}).
		Hook(CustomCallerHook{WithColor: colorize})
}

func callerSkipFrames(e *zerolog.Event) int {
	field := reflect.ValueOf(e).Elem().FieldByName("skipFrame")
	if field.IsValid() {
		return int(field.Int())
	}
	return 0
}

type CustomTimeHook struct {
	Format string
}

func (t CustomTimeHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	format := t.Format
	if format == "" {
		format = "15:04:05.000"
	}
	e.Str("time", time.Now().Format(format))
}

type CustomCallerHook struct {
	WithColor bool
}

func (c CustomCallerHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	pc, file, line, ok := runtime.Caller(callerSkipFrames(e) + 3)
	if !ok {
		return
	}

	pkg := ""
	if fn := runtime.FuncForPC(pc); fn != nil {
		pkg, _ = SplitFuncName(fn.Name())
	}

	e.Str("caller", FormatCaller(pkg, file, line, c.WithColor))
}

// SplitFuncName splits a runtime function name such as
// "github.com/walteh/tmtokens/pkg/lexer.(*scan).run" into its package path
// and the rest.
func SplitFuncName(name string) (pkg, function string) {
	lastSlash := max(strings.LastIndexByte(name, '/'), 0)
	firstDot := strings.IndexByte(name[lastSlash:], '.')
	if firstDot < 0 {
		return name, ""
	}
	firstDot += lastSlash
	return name[:firstDot], name[firstDot+1:]
}

func FormatCaller(pkg, path string, number int, colorize bool) string {
	pkg = pkg[strings.LastIndexByte(pkg, '/')+1:]
	file := path[strings.LastIndexByte(path, '/')+1:]

	if colorize {
		sep := color.New(color.Faint).Sprint(":")
		return pkg + sep + color.New(color.Bold).Sprint(file) + sep + color.New(color.FgHiRed, color.Bold).Sprintf("%d", number)
	}

	return fmt.Sprintf("%s:%s:%d", pkg, file, number)
}
