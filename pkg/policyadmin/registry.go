package policyadmin

// commandMeta is the static metadata describing one subcommand's risk
// profile; it never changes at runtime.
type commandMeta struct {
	Mutating bool
	Risky    bool
}

// registry is the closed set of known subcommands. A subcommand absent from
// this map is OutcomeUnknown.
var registry = map[string]commandMeta{
	"help":           {},
	"list-groups":    {},
	"resolve-group":  {},
	"status-group":   {},
	"explain-group":  {},
	"allow-group":    {Mutating: true},
	"block-group":    {Mutating: true},
	"set-when":       {Mutating: true},
	"set-persona":    {Mutating: true},
	"clear-persona":  {Mutating: true},
	"block-sender":   {Mutating: true},
	"unblock-sender": {Mutating: true},
	"list-blocked":   {},
	"history":        {},
	"rollback":       {Mutating: true, Risky: true},
}

func lookupCommand(sub string) (commandMeta, bool) {
	meta, ok := registry[sub]
	return meta, ok
}
