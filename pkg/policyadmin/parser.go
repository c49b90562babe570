package policyadmin

import "strings"

// ParsedCommand is a tokenized admin command line with its trailing flags
// extracted.
type ParsedCommand struct {
	Subcommand string
	Args       []string
	Options    ExecutionOptions
	Raw        string
}

// aliasTable normalizes subcommand aliases to their canonical form.
var aliasTable = map[string]string{
	"groups":         "list-groups",
	"resume-group":   "allow-group",
	"pause-group":    "block-group",
}

// Parse tokenizes a raw "policy <subcommand> [args...] [--dry-run] [--confirm]"
// line. It returns ok=false if the first token isn't "policy". Tokens may be
// single- or double-quoted to carry spaces (group subjects, persona paths).
func Parse(raw string) (ParsedCommand, bool) {
	fields := splitQuoted(raw)
	if len(fields) == 0 || strings.ToLower(fields[0]) != "policy" {
		return ParsedCommand{}, false
	}
	if len(fields) < 2 {
		return ParsedCommand{Raw: raw}, true
	}

	sub := strings.ToLower(fields[1])
	if canonical, ok := aliasTable[sub]; ok {
		sub = canonical
	}

	var opts ExecutionOptions
	var args []string
	for _, tok := range fields[2:] {
		switch strings.ToLower(tok) {
		case "--dry-run":
			opts.DryRun = true
		case "--confirm":
			opts.Confirm = true
		default:
			args = append(args, tok)
		}
	}

	return ParsedCommand{Subcommand: sub, Args: args, Options: opts, Raw: raw}, true
}

// splitQuoted splits s on whitespace, honoring single and double quotes. An
// unterminated quote consumes the rest of the line as one token.
func splitQuoted(s string) []string {
	var out []string
	var b strings.Builder
	var quote rune
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				b.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return out
}
