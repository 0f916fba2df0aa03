// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package markup renders operator-authored Markdown templates into the
// two bodies a Matrix message carries: sanitized HTML for
// "org.matrix.custom.html" clients and plain text for everyone else.
package markup

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
)

// The goldmark instance is configured once and shared; parsing creates
// per-call state.
var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

func markdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
			// Raw HTML in templates is escaped, never passed through.
			goldmark.WithRendererOptions(html.WithHardWraps()),
		)
	})
	return markdownInstance
}

// Message is a rendered message body pair.
type Message struct {
	Plain string
	HTML  string
}

// Render converts Markdown source to HTML and plain text.
func Render(source string) (Message, error) {
	data := []byte(source)
	document := markdown().Parser().Parse(text.NewReader(data))

	var rendered bytes.Buffer
	if err := markdown().Renderer().Render(&rendered, data, document); err != nil {
		return Message{}, fmt.Errorf("markup: rendering html: %w", err)
	}
	return Message{
		Plain: plainText(document, data),
		HTML:  strings.TrimRight(rendered.String(), "\n"),
	}, nil
}

// plainText walks the document and keeps the visible text: emphasis
// and code markers are dropped, link targets are kept after the link
// text when they differ, and blocks are separated by blank lines.
func plainText(document ast.Node, source []byte) string {
	var output strings.Builder
	ast.Walk(document, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := node.(type) {
		case *ast.Text:
			if entering {
				output.Write(node.Segment.Value(source))
				if (node.HardLineBreak() || node.SoftLineBreak()) && node.NextSibling() != nil {
					output.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				output.Write(node.Value)
			}
		case *ast.CodeSpan:
			// Children are Text nodes; nothing extra to emit.
		case *ast.AutoLink:
			if entering {
				output.Write(node.URL(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Link:
			if !entering {
				label := string(node.Text(source))
				if destination := string(node.Destination); destination != "" && destination != label {
					fmt.Fprintf(&output, " (%s)", destination)
				}
			}
		case *ast.ListItem:
			if entering {
				output.WriteString("- ")
			} else {
				output.WriteByte('\n')
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := node.Lines()
				for index := range lines.Len() {
					segment := lines.At(index)
					output.Write(segment.Value(source))
				}
				output.WriteByte('\n')
			}
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.Heading, *ast.Blockquote, *ast.ThematicBreak:
			if !entering {
				if _, inList := node.Parent().(*ast.ListItem); !inList {
					output.WriteString("\n\n")
				}
			}
		case *ast.List:
			if !entering {
				output.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(collapseBlankLines(output.String()))
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

// Template is a parsed Markdown template. Safe for concurrent use.
type Template struct {
	name     string
	template *template.Template
}

// Compile parses a text/template producing Markdown. A reference to an
// unknown field is an error at execution time.
func Compile(name, source string) (*Template, error) {
	parsed, err := template.New(name).Option("missingkey=error").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("markup: parsing template %q: %w", name, err)
	}
	return &Template{name: name, template: parsed}, nil
}

// Execute fills the template with data and renders the result.
func (t *Template) Execute(data any) (Message, error) {
	var filled bytes.Buffer
	if err := t.template.Execute(&filled, data); err != nil {
		return Message{}, fmt.Errorf("markup: executing template %q: %w", t.name, err)
	}
	return Render(filled.String())
}

// ExecuteString fills the template without Markdown rendering. Used for
// single-line values such as room names and topics.
func (t *Template) ExecuteString(data any) (string, error) {
	var filled bytes.Buffer
	if err := t.template.Execute(&filled, data); err != nil {
		return "", fmt.Errorf("markup: executing template %q: %w", t.name, err)
	}
	return strings.TrimSpace(filled.String()), nil
}
