package control

import (
	"errors"
	"strings"

	"github.com/google/shlex"
)

// Verb suffixes, after stripping the configurable prefix.
const (
	VerbSet    = "set"
	VerbGet    = "get"
	VerbCat    = "cat"
	VerbList   = "list"
	VerbLoadSO = "loadso"
)

var (
	errParse       = errors.New("parse error")
	errUnknownVerb = errors.New("unknown verb")
)

// Command is one parsed control-plane line.
type Command struct {
	Verb     string
	Selector string
	Resource string
	Arg      string // set's value, or loadso's filename
}

// parseLine tokenizes a line with shlex (so a set value or a driver
// name can be quoted) and validates it against the grammar:
// "<verb> [<selector> [<resource> [<value...>]]]".
func parseLine(prefix, line string) (Command, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return Command{}, errParse
	}
	if len(tokens) == 0 {
		return Command{}, errParse
	}
	suffix, ok := strings.CutPrefix(tokens[0], prefix)
	if !ok || suffix == "" {
		return Command{}, errUnknownVerb
	}

	cmd := Command{Verb: suffix}
	switch suffix {
	case VerbList:
		if len(tokens) > 1 {
			cmd.Selector = tokens[1]
		}
	case VerbLoadSO:
		if len(tokens) < 2 {
			return Command{}, errParse
		}
		cmd.Arg = tokens[1]
	case VerbGet, VerbCat:
		if len(tokens) < 3 {
			return Command{}, errParse
		}
		cmd.Selector = tokens[1]
		cmd.Resource = tokens[2]
	case VerbSet:
		if len(tokens) < 4 {
			return Command{}, errParse
		}
		cmd.Selector = tokens[1]
		cmd.Resource = tokens[2]
		cmd.Arg = strings.Join(tokens[3:], " ")
	default:
		return Command{}, errUnknownVerb
	}
	return cmd, nil
}
