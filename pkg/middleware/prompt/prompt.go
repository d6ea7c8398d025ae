// Package prompt renders prompt templates as flow handlers.
//
// Templates use text/template. The handler's input is available as .Input;
// extra fields come from the data map. Missing keys are an error so a typo
// in a field name never reaches the model as "<no value>".
package prompt

import (
	"bytes"
	"fmt"
	"maps"
	"text/template"

	"github.com/calque-ai/guidebot/pkg/calque"
)

// Template parses templateStr and returns a handler rendering it.
//
//	flow.Use(prompt.Template("규정:\n{{.Context}}\n\n질문: {{.Input}}", map[string]any{
//		"Context": groundingContext,
//	}))
func Template(templateStr string, data ...map[string]any) calque.Handler {
	tmpl, err := Parse(templateStr)
	if err != nil {
		return calque.HandlerFunc(func(req *calque.Request, _ *calque.Response) error {
			return calque.WrapErr(req.Context, err, "template parse error")
		})
	}
	return FromTemplate(tmpl, data...)
}

// Parse parses a prompt template with missing keys treated as errors.
func Parse(templateStr string) (*template.Template, error) {
	return template.New("prompt").Option("missingkey=error").Parse(templateStr)
}

// MustParse is Parse that panics, for package-level prompts.
func MustParse(templateStr string) *template.Template {
	return template.Must(Parse(templateStr))
}

// FromTemplate returns a handler rendering a parsed template.
func FromTemplate(tmpl *template.Template, data ...map[string]any) calque.Handler {
	return calque.HandlerFunc(func(req *calque.Request, res *calque.Response) error {
		var input string
		if err := calque.Read(req, &input); err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		out, err := Render(tmpl, input, data...)
		if err != nil {
			return calque.WrapErr(req.Context, err, "template execution error")
		}
		return calque.Write(res, out)
	})
}

// Render executes tmpl with .Input set to input plus the data fields.
func Render(tmpl *template.Template, input string, data ...map[string]any) (string, error) {
	templateData := map[string]any{"Input": input}
	for _, d := range data {
		maps.Copy(templateData, d)
	}

	var output bytes.Buffer
	if err := tmpl.Execute(&output, templateData); err != nil {
		return "", err
	}
	return output.String(), nil
}
