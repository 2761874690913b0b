/*
Package highlight turns source text into themed tokens.

🎨 Overview:
-----------
An Engine owns one grammar registry and one theme store. Everything it
compiles or loads stays private to it, so two engines never exchange rule
IDs even when they read the same grammar files.

Architecture:
------------

	source, language, themes
	         |
	         v
	+----------------+   scope    +----------------+
	| grammar        | ---------> | lexer          |
	| (Registry)     |            | (line by line) |
	+----------------+            +----------------+
	                                      |
	                               raw tokens + stack
	                                      |
	+----------------+   styles   +-------v--------+
	| theme (Store)  | ---------> | style.Merge    |
	+----------------+            +----------------+
	                                      |
	                                      v
	                              [][]StyledToken

🔁 Continuation:
---------------
Every call ends with a GrammarState: the rule stack after the last line,
tagged with the lineage of the grammar that produced it. Passing it back
with WithGrammarState resumes tokenization where the previous call stopped.
A state from another lineage (another engine, or another language) fails
with ErrGrammarStateMismatch instead of reaching the lexer.

📡 Streaming:
------------
Stream yields one line at a time and shares its code path with Tokenize, so
collecting a stream gives exactly the batch result. Breaking out of the loop
stops all further work.
*/
package highlight
