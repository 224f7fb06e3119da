package serving

import (
	"fmt"
	"strings"
	"text/template"

	"chatd/internal/common/fsutil"
	"chatd/internal/engine"
	"chatd/internal/engineargs"
)

const maxTemplateBytes = 1 << 20

// templateData is what a chat template is executed against.
type templateData struct {
	Messages            []engine.Message
	ResponseRole        string
	AddGenerationPrompt bool
}

var templateFuncs = template.FuncMap{
	"trim":  strings.TrimSpace,
	"upper": strings.ToUpper,
}

// LoadTemplate compiles a chat template given inline or as a path to a
// file. The empty string yields a nil template: the engine then applies
// its own template to structured messages. A value without braces or
// newlines is a path and must name a readable file.
func LoadTemplate(value string) (*template.Template, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	src := value
	name := "inline"
	if !strings.ContainsAny(value, "{}\n") {
		if !fsutil.IsFile(value) {
			return nil, &engineargs.ConfigurationError{Key: "chat-template", Reason: "file not found: " + value}
		}
		b, err := fsutil.ReadFileLimit(value, maxTemplateBytes)
		if err != nil {
			return nil, &engineargs.ConfigurationError{Key: "chat-template", Reason: err.Error()}
		}
		src, name = string(b), value
	}
	t, err := template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, &engineargs.ConfigurationError{Key: "chat-template", Reason: err.Error()}
	}
	return t, nil
}

func renderPrompt(t *template.Template, msgs []engine.Message, role string) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, templateData{Messages: msgs, ResponseRole: role, AddGenerationPrompt: true}); err != nil {
		return "", fmt.Errorf("apply chat template: %w", err)
	}
	return b.String(), nil
}
