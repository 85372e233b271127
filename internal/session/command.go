package session

import "strings"

// Command is one of the commands the transport forwards.
type Command int

const (
	CmdStart Command = iota
	CmdNewStory
	CmdBegin
	CmdEnd
	CmdWholeStory
	CmdDebugOn
	CmdDebugOff
	CmdUsageReport
	CmdLogs

	commandCount
)

var commandNames = [commandCount]string{
	CmdStart:       "start",
	CmdNewStory:    "new-story",
	CmdBegin:       "begin",
	CmdEnd:         "end",
	CmdWholeStory:  "whole-story",
	CmdDebugOn:     "debug-on",
	CmdDebugOff:    "debug-off",
	CmdUsageReport: "usage-report",
	CmdLogs:        "logs",
}

// Aliases accepted in addition to the canonical names.
var commandAliases = map[string]Command{
	"debug-mode-on":  CmdDebugOn,
	"debug-mode-off": CmdDebugOff,
	"all-tokens":     CmdUsageReport,
	"debug":          CmdLogs,
}

func (c Command) String() string {
	if c >= 0 && c < commandCount {
		return commandNames[c]
	}
	return "unknown"
}

// Label is how the command is offered to the user, e.g. "/new_story".
func (c Command) Label() string {
	return "/" + strings.ReplaceAll(c.String(), "-", "_")
}

// Commands lists every command in declaration order.
func Commands() []Command {
	out := make([]Command, 0, commandCount)
	for c := Command(0); c < commandCount; c++ {
		out = append(out, c)
	}
	return out
}

// ParseCommand resolves "/new_story", "new-story" and the aliases.
func ParseCommand(s string) (Command, bool) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "/")
	if i := strings.IndexAny(name, " @"); i >= 0 {
		name = name[:i]
	}
	name = strings.ReplaceAll(name, "_", "-")

	for c := Command(0); c < commandCount; c++ {
		if commandNames[c] == name {
			return c, true
		}
	}
	c, ok := commandAliases[name]
	return c, ok
}
