// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/bureau-foundation/childserv/lib/ref"
)

// ErrNotCommand is returned by Parse for text without the prefix.
var ErrNotCommand = errors.New("command: not a command")

// Mode is a managed room mode named in operator commands.
type Mode string

const (
	ModeMonitored Mode = "monitored"
	ModeBanTarget Mode = "ban_target"
)

// Source identifies where a command came from.
type Source struct {
	Room   ref.RoomID
	Sender ref.UserID
}

// Invocation is a successfully parsed command.
type Invocation struct {
	Source  Source
	RawText string

	// Level is the sender's permission level as given to ParseAt.
	Level int

	path      []*Node
	arguments map[string]any
}

// Command returns the literal words of the matched path, e.g.
// "room add".
func (i *Invocation) Command() string {
	var words []string
	for _, node := range i.path {
		if node.kind == KindLiteral {
			words = append(words, node.name)
		}
	}
	return strings.Join(words, " ")
}

// Has reports whether the named argument was supplied.
func (i *Invocation) Has(name string) bool {
	_, ok := i.arguments[name]
	return ok
}

// UserID returns a user argument. Zero if absent.
func (i *Invocation) UserID(name string) ref.UserID {
	value, _ := i.arguments[name].(ref.UserID)
	return value
}

// Room returns a room argument. Zero if absent.
func (i *Invocation) Room(name string) ref.RoomRef {
	value, _ := i.arguments[name].(ref.RoomRef)
	return value
}

// String returns a word or greedy argument. Empty if absent.
func (i *Invocation) String(name string) string {
	value, _ := i.arguments[name].(string)
	return value
}

// Mode returns a mode argument. Empty if absent.
func (i *Invocation) Mode(name string) Mode {
	value, _ := i.arguments[name].(Mode)
	return value
}

// Duration returns a duration argument. Zero if absent.
func (i *Invocation) Duration(name string) time.Duration {
	value, _ := i.arguments[name].(time.Duration)
	return value
}

// ParseError reports input that does not match the tree. The text is
// meant for the sender.
type ParseError struct {
	Message    string
	Suggestion string
	Usage      []string
}

func (e *ParseError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (did you mean %q?)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Reply renders the error with its usage lines.
func (e *ParseError) Reply() string {
	if len(e.Usage) == 0 {
		return e.Error()
	}
	return e.Error() + "\nusage:\n  " + strings.Join(e.Usage, "\n  ")
}

type token struct {
	value  string
	offset int
}

// tokenize splits on whitespace. Single or double quotes group a
// token; the quote characters are removed.
func tokenize(text string) ([]token, error) {
	var tokens []token
	var current strings.Builder
	var quote rune
	inToken := false
	start := 0

	for offset, character := range text {
		switch {
		case quote != 0:
			if character == quote {
				quote = 0
				continue
			}
			current.WriteRune(character)
		case character == '"' || character == '\'':
			if !inToken {
				inToken = true
				start = offset
			}
			quote = character
		case unicode.IsSpace(character):
			if inToken {
				tokens = append(tokens, token{value: current.String(), offset: start})
				current.Reset()
				inToken = false
			}
		default:
			if !inToken {
				inToken = true
				start = offset
			}
			current.WriteRune(character)
		}
	}
	if quote != 0 {
		return nil, &ParseError{Message: fmt.Sprintf("unterminated %c quote", quote)}
	}
	if inToken {
		tokens = append(tokens, token{value: current.String(), offset: start})
	}
	return tokens, nil
}

// Parse matches rawText against the tree with no level restriction.
// Returns ErrNotCommand when the prefix is missing and a *ParseError
// when matching fails.
func (t *Tree) Parse(source Source, rawText string) (*Invocation, error) {
	return t.ParseAt(source, rawText, math.MaxInt)
}

// ParseAt is Parse for a sender at level. Usage lines and suggestions
// only name commands usable at level, and a path that already needs
// more than level fails with a *PermissionError.
func (t *Tree) ParseAt(source Source, rawText string, level int) (*Invocation, error) {
	trimmed := strings.TrimSpace(rawText)
	if !strings.HasPrefix(trimmed, t.prefix) {
		return nil, ErrNotCommand
	}
	body := trimmed[len(t.prefix):]
	tokens, err := tokenize(body)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, &ParseError{
			Message: "empty command",
			Usage:   []string{t.prefix + "help"},
		}
	}

	invocation := &Invocation{
		Source:    source,
		RawText:   rawText,
		Level:     level,
		arguments: make(map[string]any),
	}
	node := t.root
	for index := 0; index < len(tokens); index++ {
		word := tokens[index]
		if next := node.literalChild(word.value); next != nil {
			invocation.path = append(invocation.path, next)
			node = next
			if err := t.Authorize(invocation, level); err != nil {
				return nil, err
			}
			continue
		}
		argument := node.argumentChild()
		if argument == nil {
			return nil, t.unknownWord(invocation.path, node, word.value, level)
		}
		if argument.greedy() {
			invocation.arguments[argument.name] = greedyValue(body, tokens[index:])
			invocation.path = append(invocation.path, argument)
			node = argument
			break
		}
		value, err := parseArgument(argument.argType, word.value)
		if err != nil {
			return nil, &ParseError{
				Message: fmt.Sprintf("invalid %s: %v", argument.name, err),
				Usage:   t.usage(invocation.path, level),
			}
		}
		invocation.arguments[argument.name] = value
		invocation.path = append(invocation.path, argument)
		node = argument
	}

	if node.handler == nil {
		return nil, &ParseError{
			Message: fmt.Sprintf("incomplete command %q", t.prefix+invocation.Command()),
			Usage:   t.usage(invocation.path, level),
		}
	}
	return invocation, nil
}

func (t *Tree) unknownWord(path []*Node, node *Node, word string, level int) error {
	required := 0
	for _, step := range path {
		required = max(required, step.level)
	}
	if len(path) == 0 {
		return &ParseError{
			Message:    fmt.Sprintf("unknown command %q", word),
			Suggestion: suggest(word, node.literalNames(level, required)),
			Usage:      []string{t.prefix + "help"},
		}
	}
	if len(node.children) == 0 {
		return &ParseError{
			Message: fmt.Sprintf("unexpected argument %q", word),
			Usage:   t.usage(path, level),
		}
	}
	return &ParseError{
		Message:    fmt.Sprintf("unknown subcommand %q", word),
		Suggestion: suggest(word, node.literalNames(level, required)),
		Usage:      t.usage(path, level),
	}
}

// greedyValue is the remainder of body from the first remaining
// token. A remainder that is a single quoted token is unquoted.
func greedyValue(body string, rest []token) string {
	if len(rest) == 1 {
		return rest[0].value
	}
	return strings.TrimSpace(body[rest[0].offset:])
}

func parseArgument(argType ArgType, raw string) (any, error) {
	switch argType {
	case ArgUserID:
		return ref.ParseUserID(raw)
	case ArgRoom:
		return ref.ParseRoomRef(raw)
	case ArgWord:
		return raw, nil
	case ArgMode:
		switch mode := Mode(strings.ToLower(raw)); mode {
		case ModeMonitored, ModeBanTarget:
			return mode, nil
		default:
			return nil, fmt.Errorf("%q is not one of %s, %s", raw, ModeMonitored, ModeBanTarget)
		}
	case ArgDuration:
		duration, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		if duration <= 0 {
			return nil, fmt.Errorf("duration must be positive, got %s", raw)
		}
		return duration, nil
	default:
		return nil, fmt.Errorf("unsupported argument type %s", argType)
	}
}

// suggest returns the candidate closest to unknown within edit
// distance 3, or "".
func suggest(unknown string, candidates []string) string {
	best := ""
	bestDistance := 4
	for _, candidate := range candidates {
		distance := levenshtein(strings.ToLower(unknown), strings.ToLower(candidate))
		if distance < bestDistance {
			bestDistance = distance
			best = candidate
		}
	}
	return best
}

// levenshtein computes edit distance with a single rolling row.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	left, right := []rune(a), []rune(b)
	if len(left) == 0 {
		return len(right)
	}
	if len(right) == 0 {
		return len(left)
	}
	row := make([]int, len(right)+1)
	for column := range row {
		row[column] = column
	}
	for i := 1; i <= len(left); i++ {
		diagonal := row[0]
		row[0] = i
		for j := 1; j <= len(right); j++ {
			above := row[j]
			cost := 1
			if left[i-1] == right[j-1] {
				cost = 0
			}
			row[j] = min(row[j]+1, row[j-1]+1, diagonal+cost)
			diagonal = above
		}
	}
	return row[len(right)]
}
