/*
Package semtok turns highlighted TextMate tokens into LSP semantic tokens.

	 StyledToken lines            LSP client
	      |                           ^
	      v                           |
	+------------+  Classify   +-------------+
	| scope list | ----------> | type + mods |
	+------------+             +-------------+
	      |                           |
	      +-------- Tokens -----------+
	                  |
	                Encode
	                  |
	                  v
	       [dLine dChar len type mods]...

Scopes are looked at innermost first. The first scope with a known prefix
decides the token type, so "string.quoted.double.ts" inside
"meta.embedded.expression" is still a string. Tokens no prefix recognises
are left out; editors paint them with the TextMate colours.

Positions follow the LSP default encoding: lines are zero based and
characters count UTF-16 code units from the start of the line.
*/
package semtok
