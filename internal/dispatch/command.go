package dispatch

import "strings"

// Command is the action keyword taken from the first word of a message body.
type Command int

const (
	Unrecognized Command = iota
	ChatID
	File
	Ogg
	Geo
	Group
)

var keywords = map[string]Command{
	"chatid": ChatID,
	"file":   File,
	"ogg":    Ogg,
	"geo":    Geo,
	"group":  Group,
}

func (c Command) String() string {
	switch c {
	case ChatID:
		return "chatid"
	case File:
		return "file"
	case Ogg:
		return "ogg"
	case Geo:
		return "geo"
	case Group:
		return "group"
	default:
		return "unrecognized"
	}
}

// Classify maps a keyword to its Command, ignoring case.
func Classify(word string) Command {
	if cmd, ok := keywords[strings.ToLower(word)]; ok {
		return cmd
	}
	return Unrecognized
}

// ChatCommand is a message body split into its command and arguments.
type ChatCommand struct {
	Name    string
	Command Command
	Args    []string
}

// ParseCommand splits body on whitespace. Returns nil for an empty or
// whitespace-only body.
func ParseCommand(body string) *ChatCommand {
	parts := strings.Fields(body)
	if len(parts) == 0 {
		return nil
	}
	return &ChatCommand{
		Name:    strings.ToLower(parts[0]),
		Command: Classify(parts[0]),
		Args:    parts[1:],
	}
}

// Arg returns the i-th argument or "" when absent.
func (c *ChatCommand) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}
