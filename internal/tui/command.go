package tui

import (
	"fmt"
	"strconv"
	"strings"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':'). Aliases
// are folded into their long names.
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	switch cmd.Name {
	case "q", "q!", "exit":
		cmd.Name = "quit"
	case "h":
		cmd.Name = "help"
	case "n":
		cmd.Name = "new"
	}
	return cmd
}

// ID parses the argument as a positive id.
func (c Command) ID() (int64, error) {
	id, err := strconv.ParseInt(c.Args, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf(":%s wants a numeric id, got %q", c.Name, c.Args)
	}
	return id, nil
}
