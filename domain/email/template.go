package email

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"github.com/aymerick/raymond"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

//go:embed templates
var embeddedTemplates embed.FS

// TemplateService renders Handlebars email templates.
//
// Templates are read once from a filesystem laid out as:
//   - layouts/*.hbs - base layouts that wrap content
//   - *.hbs - main email templates
type TemplateService struct {
	log       *slog.Logger
	templates map[string]*raymond.Template
	layouts   map[string]*raymond.Template
}

// TemplateRenderResult contains the rendered email content
type TemplateRenderResult struct {
	HTML string
	Text string
}

// TemplateContext is the data passed to templates
type TemplateContext map[string]any

// NewTemplateService parses the templates bundled with the binary.
func NewTemplateService(log *slog.Logger) (*TemplateService, error) {
	sub, err := fs.Sub(embeddedTemplates, "templates")
	if err != nil {
		return nil, err
	}
	return NewTemplateServiceFS(sub, log)
}

// NewTemplateServiceFS parses every template found in fsys.
func NewTemplateServiceFS(fsys fs.FS, log *slog.Logger) (*TemplateService, error) {
	ts := &TemplateService{
		log:       log.With(logger.Scope("email.template")),
		templates: make(map[string]*raymond.Template),
		layouts:   make(map[string]*raymond.Template),
	}
	if err := ts.load(fsys, ".", ts.templates); err != nil {
		return nil, err
	}
	if err := ts.load(fsys, "layouts", ts.layouts); err != nil {
		return nil, err
	}
	ts.log.Debug("email templates loaded",
		slog.Int("templates", len(ts.templates)),
		slog.Int("layouts", len(ts.layouts)))
	return ts, nil
}

func (ts *TemplateService) load(fsys fs.FS, dir string, into map[string]*raymond.Template) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if dir != "." && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read template dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".hbs") {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read template %s: %w", entry.Name(), err)
		}
		tmpl, err := raymond.Parse(string(content))
		if err != nil {
			return fmt.Errorf("failed to parse template %s: %w", entry.Name(), err)
		}
		into[strings.TrimSuffix(entry.Name(), ".hbs")] = tmpl
	}
	return nil
}

// Render renders an email template with the given context, wrapped in
// layoutName when it is non-empty.
func (ts *TemplateService) Render(templateName string, context TemplateContext, layoutName string) (*TemplateRenderResult, error) {
	tmpl, ok := ts.templates[templateName]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", templateName)
	}

	content, err := tmpl.Exec(context)
	if err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", templateName, err)
	}

	if layoutName != "" {
		layout, ok := ts.layouts[layoutName]
		if !ok {
			ts.log.Debug("layout not found, using template directly",
				slog.String("layout", layoutName))
		} else {
			layoutCtx := make(TemplateContext, len(context)+1)
			for k, v := range context {
				layoutCtx[k] = v
			}
			layoutCtx["content"] = raymond.SafeString(content)

			content, err = layout.Exec(layoutCtx)
			if err != nil {
				return nil, fmt.Errorf("failed to render layout %s: %w", layoutName, err)
			}
		}
	}

	return &TemplateRenderResult{
		HTML: content,
		Text: plainText(context),
	}, nil
}

// HasTemplate checks if a template exists
func (ts *TemplateService) HasTemplate(name string) bool {
	_, ok := ts.templates[name]
	return ok
}

// plainText builds the text alternative from the common context fields.
func plainText(context TemplateContext) string {
	var parts []string
	for _, key := range []string{"title", "message"} {
		if v, ok := context[key].(string); ok && v != "" {
			parts = append(parts, v, "")
		}
	}
	if link, ok := context["ctaUrl"].(string); ok && link != "" {
		parts = append(parts, "Link: "+link, "")
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
