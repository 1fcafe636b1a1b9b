// Package template renders command results into reply text. The engine
// only depends on the Renderer contract; rendering failures are caught
// by the caller and logged, never propagated to the user path.
package template

import (
	"bytes"
	"fmt"
	"text/template"
)

// Renderer turns a command's result data into reply text.
type Renderer func(data interface{}) (string, error)

// Text compiles a text/template body into a Renderer.
func Text(body string) (Renderer, error) {
	t, err := template.New("reply").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("template: parse: %w", err)
	}
	return func(data interface{}) (string, error) {
		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("template: render: %w", err)
		}
		return buf.String(), nil
	}, nil
}

// MustText is Text for statically known bodies; it panics on a parse
// error.
func MustText(body string) Renderer {
	r, err := Text(body)
	if err != nil {
		panic(err)
	}
	return r
}

// Sprint renders data with fmt when a command declares no template.
func Sprint(data interface{}) (string, error) {
	if s, ok := data.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", data), nil
}
