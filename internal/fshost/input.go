package fshost

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"zwsentry/internal/host"
)

// ErrQuit is returned by Dispatch for the quit command.
var ErrQuit = errors.New("fshost: quit")

// CommandKind enumerates stdin commands.
type CommandKind int

const (
	CmdSelect CommandKind = iota
	CmdField
	CmdHover
	CmdKeyUp
	CmdClick
	CmdVerify
	CmdMode
	CmdQuit
	CmdHelp
)

// Command is one parsed stdin line.
type Command struct {
	Kind CommandKind
	// Text is the selected text for CmdSelect.
	Text string
	// Path is the region or form for CmdHover and CmdField.
	Path string
	// Field, Start and End describe a CmdField selection in runes.
	Field      string
	Start, End int
	Mode       host.Mode
}

// Help lists the commands understood on stdin.
const Help = `lines without a leading ':' are scanned as a selection
  :select "<go-quoted text>"      select text with \u escapes
  :field <form> <name> <from> <to> select runes [from,to) of a form field
  :hover <path>                   hover over a file
  :keyup                          collapse the selection
  :click                          click outside the summary
  :verify                         verify the text in the summary
  :mode off|auto|selection        switch mode
  :quit                           exit`

// ParseCommand parses one input line. Lines without a leading colon are
// selections of their raw text.
func ParseCommand(line string) (Command, error) {
	if !strings.HasPrefix(line, ":") {
		return Command{Kind: CmdSelect, Text: line}, nil
	}
	name, rest, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch name {
	case "select", "s":
		text, err := strconv.Unquote(rest)
		if err != nil {
			return Command{}, fmt.Errorf("select: expected a quoted string: %w", err)
		}
		return Command{Kind: CmdSelect, Text: text}, nil
	case "field", "f":
		if len(args) != 4 {
			return Command{}, errors.New("field: usage :field <form> <name> <from> <to>")
		}
		start, err := strconv.Atoi(args[2])
		if err != nil {
			return Command{}, fmt.Errorf("field: bad start: %w", err)
		}
		end, err := strconv.Atoi(args[3])
		if err != nil {
			return Command{}, fmt.Errorf("field: bad end: %w", err)
		}
		return Command{Kind: CmdField, Path: args[0], Field: args[1], Start: start, End: end}, nil
	case "hover", "h":
		if len(args) != 1 {
			return Command{}, errors.New("hover: usage :hover <path>")
		}
		return Command{Kind: CmdHover, Path: args[0]}, nil
	case "keyup":
		return Command{Kind: CmdKeyUp}, nil
	case "click", "clear":
		return Command{Kind: CmdClick}, nil
	case "verify", "v":
		return Command{Kind: CmdVerify}, nil
	case "mode", "m":
		if len(args) != 1 {
			return Command{}, errors.New("mode: usage :mode off|auto|selection")
		}
		m, err := host.ParseMode(args[0])
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: CmdMode, Mode: m}, nil
	case "quit", "q", "exit":
		return Command{Kind: CmdQuit}, nil
	case "help", "?":
		return Command{Kind: CmdHelp}, nil
	}
	return Command{}, fmt.Errorf("unknown command :%s (try :help)", name)
}
