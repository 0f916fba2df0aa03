// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package markup

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	message, err := Render("Welcome **alice**!\n\nRead the [rules](https://example.org/rules) first.")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(message.HTML, "<strong>alice</strong>") {
		t.Errorf("HTML missing emphasis: %q", message.HTML)
	}
	if !strings.Contains(message.HTML, `<a href="https://example.org/rules">rules</a>`) {
		t.Errorf("HTML missing link: %q", message.HTML)
	}
	want := "Welcome alice!\n\nRead the rules (https://example.org/rules) first."
	if message.Plain != want {
		t.Errorf("Plain = %q, want %q", message.Plain, want)
	}
}

func TestRenderEscapesRawHTML(t *testing.T) {
	message, err := Render("hello <script>alert(1)</script>")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(message.HTML, "<script>") {
		t.Errorf("raw HTML passed through: %q", message.HTML)
	}
}

func TestRenderList(t *testing.T) {
	message, err := Render("Rules:\n\n- be kind\n- no spam\n")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(message.Plain, "- be kind\n- no spam") {
		t.Errorf("Plain list = %q", message.Plain)
	}
	if !strings.Contains(message.HTML, "<li>be kind</li>") {
		t.Errorf("HTML list = %q", message.HTML)
	}
}

func TestTemplate(t *testing.T) {
	tmpl, err := Compile("welcome", "Hi *{{.Name}}*, you have {{.Minutes}} minutes.")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	message, err := tmpl.Execute(map[string]any{"Name": "bob", "Minutes": 60})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if message.Plain != "Hi bob, you have 60 minutes." {
		t.Errorf("Plain = %q", message.Plain)
	}
	if !strings.Contains(message.HTML, "<em>bob</em>") {
		t.Errorf("HTML = %q", message.HTML)
	}

	if _, err := tmpl.Execute(map[string]any{"Name": "bob"}); err == nil {
		t.Error("missing key accepted")
	}
}

func TestCompileRejectsBadTemplate(t *testing.T) {
	if _, err := Compile("broken", "{{.Name"); err == nil {
		t.Error("unterminated action accepted")
	}
}

func TestExecuteString(t *testing.T) {
	tmpl, err := Compile("name", " Welcome {{.Localpart}} ")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got, err := tmpl.ExecuteString(struct{ Localpart string }{"carol"})
	if err != nil {
		t.Fatalf("ExecuteString: %v", err)
	}
	if got != "Welcome carol" {
		t.Errorf("got %q", got)
	}
}
