// Package render substitutes resolved dependency content into a parent
// resource's body. The template language itself is a collaborator concern;
// the pipeline only supplies inputs and validates output size.
package render

import (
	"bytes"
	"fmt"
	"text/template"
	"unicode/utf8"
)

// Renderer produces a resource's final bytes from its body and the content
// of its embedded children, keyed by binding name.
type Renderer interface {
	Render(body []byte, children map[string]string) ([]byte, error)
}

// TemplateRenderer renders bodies through Go text/template, exposing each
// child's content under its binding name.
type TemplateRenderer struct{}

// Render implements Renderer. Binary bodies pass through untouched.
func (TemplateRenderer) Render(body []byte, children map[string]string) ([]byte, error) {
	if !utf8.Valid(body) || bytes.ContainsRune(body, 0) {
		return body, nil
	}
	if len(children) == 0 {
		return body, nil
	}

	tmpl, err := template.New("").Option("missingkey=error").Parse(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, children); err != nil {
		return nil, fmt.Errorf("executing template: %w", err)
	}
	return buf.Bytes(), nil
}
