// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind distinguishes the two node variants.
type Kind int

const (
	// KindLiteral matches one fixed word.
	KindLiteral Kind = iota
	// KindArgument parses one typed value (or the rest of the line).
	KindArgument
)

// ArgType is the type of an argument node.
type ArgType int

const (
	// ArgUserID is a Matrix user ID ("@name:server").
	ArgUserID ArgType = iota
	// ArgRoom is a room ID or alias, yielding a ref.RoomRef.
	ArgRoom
	// ArgWord is any single token.
	ArgWord
	// ArgMode is a room mode: "monitored" or "ban_target".
	ArgMode
	// ArgDuration is a Go duration ("90m", "2h30m").
	ArgDuration
	// ArgGreedyString consumes the rest of the line. Must be last.
	ArgGreedyString
)

func (t ArgType) String() string {
	switch t {
	case ArgUserID:
		return "user"
	case ArgRoom:
		return "room"
	case ArgWord:
		return "word"
	case ArgMode:
		return "mode"
	case ArgDuration:
		return "duration"
	case ArgGreedyString:
		return "text"
	default:
		return fmt.Sprintf("ArgType(%d)", int(t))
	}
}

// Handler executes a matched command and returns the reply text.
type Handler func(ctx context.Context, invocation *Invocation) (string, error)

// Node is one position in the command tree.
type Node struct {
	kind     Kind
	name     string
	argType  ArgType
	level    int
	summary  string
	handler  Handler
	children []*Node
}

// Literal declares a fixed command word.
func Literal(name string, children ...*Node) *Node {
	return &Node{kind: KindLiteral, name: name, children: children}
}

// Argument declares a typed value named name. Handlers read it back by
// that name.
func Argument(name string, argType ArgType, children ...*Node) *Node {
	return &Node{kind: KindArgument, name: name, argType: argType, children: children}
}

// Level sets the minimum permission level to pass through this node.
func (n *Node) Level(level int) *Node {
	n.level = level
	return n
}

// Summary sets the one-line description shown by help.
func (n *Node) Summary(summary string) *Node {
	n.summary = summary
	return n
}

// Executes binds the handler run when input ends at this node.
func (n *Node) Executes(handler Handler) *Node {
	n.handler = handler
	return n
}

// Kind returns the node's variant.
func (n *Node) Kind() Kind { return n.kind }

// Name returns the literal word or argument name.
func (n *Node) Name() string { return n.name }

func (n *Node) greedy() bool {
	return n.kind == KindArgument && n.argType == ArgGreedyString
}

// token renders the node for usage lines.
func (n *Node) token() string {
	if n.kind == KindLiteral {
		return n.name
	}
	if n.greedy() {
		return "<" + n.name + "...>"
	}
	return "<" + n.name + ">"
}

func (n *Node) literalChild(word string) *Node {
	for _, child := range n.children {
		if child.kind == KindLiteral && strings.EqualFold(child.name, word) {
			return child
		}
	}
	return nil
}

func (n *Node) argumentChild() *Node {
	for _, child := range n.children {
		if child.kind == KindArgument {
			return child
		}
	}
	return nil
}

// literalNames lists the literal children usable at level, given the
// level already required to reach n.
func (n *Node) literalNames(level, required int) []string {
	var names []string
	for _, child := range n.children {
		if child.kind == KindLiteral && max(required, child.level) <= level {
			names = append(names, child.name)
		}
	}
	return names
}

// Tree is a validated command tree. Safe for concurrent use: it is
// never mutated after Build.
type Tree struct {
	prefix string
	root   *Node
}

// Build validates the command nodes and returns the tree. Every
// top-level node must be a literal. All problems are reported together.
func Build(prefix string, commands ...*Node) (*Tree, error) {
	if prefix == "" {
		return nil, fmt.Errorf("command: empty prefix")
	}
	root := &Node{kind: KindLiteral, children: commands}

	var errs []error
	for _, command := range commands {
		if command.kind != KindLiteral {
			errs = append(errs, fmt.Errorf("top-level node %q must be a literal", command.name))
		}
	}
	validate(root, "", &errs)
	if len(errs) > 0 {
		return nil, fmt.Errorf("command: invalid tree: %w", errors.Join(errs...))
	}
	return &Tree{prefix: prefix, root: root}, nil
}

func validate(node *Node, path string, errs *[]error) {
	seen := make(map[string]bool)
	var arguments []string
	for _, child := range node.children {
		childPath := strings.TrimSpace(path + " " + child.token())
		switch {
		case child.name == "":
			*errs = append(*errs, fmt.Errorf("%q: node with empty name", path))
			continue
		case strings.ContainsAny(child.name, " \t\n\"'"):
			*errs = append(*errs, fmt.Errorf("%q: name %q contains whitespace or quotes", childPath, child.name))
		}

		switch child.kind {
		case KindLiteral:
			key := strings.ToLower(child.name)
			if seen[key] {
				*errs = append(*errs, fmt.Errorf("%q: duplicate literal %q", path, child.name))
			}
			seen[key] = true
		case KindArgument:
			arguments = append(arguments, child.name)
			if child.greedy() && len(child.children) > 0 {
				*errs = append(*errs, fmt.Errorf("%q: greedy argument must be last", childPath))
			}
		default:
			*errs = append(*errs, fmt.Errorf("%q: unknown node kind %d", childPath, child.kind))
		}

		if child.handler == nil && len(child.children) == 0 {
			*errs = append(*errs, fmt.Errorf("%q: leaf without handler", childPath))
		}
		validate(child, childPath, errs)
	}
	if len(arguments) > 1 {
		*errs = append(*errs, fmt.Errorf("%q: ambiguous sibling arguments %v", path, arguments))
	}
}

// Prefix returns the command prefix.
func (t *Tree) Prefix() string { return t.prefix }

// usage returns every executable form reachable from the end of path
// at level, one per line, each starting with the prefix and the words
// of path. A greedy trailing argument whose parent also executes is
// rendered as optional.
func (t *Tree) usage(path []*Node, level int) []string {
	var words []string
	required := 0
	for _, node := range path {
		words = append(words, node.token())
		required = max(required, node.level)
	}
	node := t.root
	if len(path) > 0 {
		node = path[len(path)-1]
	}
	var lines []string
	t.collectUsage(node, strings.Join(words, " "), required, level, &lines)
	return lines
}

func (t *Tree) collectUsage(node *Node, line string, required, level int, lines *[]string) {
	required = max(required, node.level)
	if required > level {
		return
	}
	if node.handler != nil {
		if len(node.children) == 1 && node.children[0].greedy() && node.children[0].handler != nil {
			*lines = append(*lines, t.prefix+line+" ["+node.children[0].name+"...]")
			return
		}
		*lines = append(*lines, t.prefix+line)
	}
	for _, child := range node.children {
		t.collectUsage(child, strings.TrimSpace(line+" "+child.token()), required, level, lines)
	}
}

// Help lists the commands visible at level with their summaries, one
// per line, sorted.
func (t *Tree) Help(level int) string {
	var entries []string
	var walk func(node *Node, line string, required int, summary string)
	walk = func(node *Node, line string, required int, summary string) {
		required = max(required, node.level)
		if required > level {
			return
		}
		if node.summary != "" {
			summary = node.summary
		}
		if node.handler != nil {
			rendered := t.prefix + line
			if len(node.children) == 1 && node.children[0].greedy() && node.children[0].handler != nil {
				rendered += " [" + node.children[0].name + "...]"
				if summary != "" {
					rendered += " - " + summary
				}
				entries = append(entries, rendered)
				return
			}
			if summary != "" {
				rendered += " - " + summary
			}
			entries = append(entries, rendered)
		}
		for _, child := range node.children {
			walk(child, strings.TrimSpace(line+" "+child.token()), required, summary)
		}
	}
	for _, command := range t.root.children {
		walk(command, command.token(), 0, "")
	}
	sort.Strings(entries)
	return strings.Join(entries, "\n")
}
