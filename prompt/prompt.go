// Package prompt renders the assistant's system prompt.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/hupe1980/agentstream/model"
)

// DefaultTemplate is the built-in system prompt. It is rendered with
// text/template against the fields documented on Params.
const DefaultTemplate = `You are a helpful personal assistant{{if .name}} for {{.name}}{{end}}.
Today is {{.date}}.{{if .location}} The user is located in {{.location}}.{{end}}
{{- if .tools}}

You can use these tools: {{join ", " .tools}}. Use a tool when it gives a better answer than your own knowledge and say when a tool failed.
{{- end}}
{{- if .memory}}

You have a memory directory at /memories. View it at the start of a conversation and record durable facts about the user there. Never store secrets.
{{- end}}
{{- if .instructions}}

{{.instructions}}
{{- end}}`

// Params are the values available to the template.
type Params struct {
	UserName     string
	Now          time.Time
	Location     *model.UserLocation
	Tools        []string
	Memory       bool
	Instructions string // appended verbatim
}

// Options configures a Builder.
type Options struct {
	// Template overrides DefaultTemplate.
	Template string
}

// Builder renders system prompts from a template. It is safe for concurrent
// use.
type Builder struct {
	tmpl *template.Template
	err  error // parse error, reported by Build
}

var funcs = template.FuncMap{
	"join":  func(sep string, items []string) string { return strings.Join(items, sep) },
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"default": func(def, val any) any {
		if val == nil || val == "" {
			return def
		}
		return val
	},
}

// New creates a Builder. The template is parsed once.
func New(optFns ...func(o *Options)) *Builder {
	opts := Options{Template: DefaultTemplate}
	for _, fn := range optFns {
		fn(&opts)
	}
	if strings.TrimSpace(opts.Template) == "" {
		opts.Template = DefaultTemplate
	}

	tmpl, err := template.New("system").Funcs(funcs).Parse(opts.Template)
	if err != nil {
		err = fmt.Errorf("parse system prompt: %w", err)
	}
	return &Builder{tmpl: tmpl, err: err}
}

// Build renders the prompt for p.
func (b *Builder) Build(p Params) (string, error) {
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}

	if b.err != nil {
		return "", b.err
	}

	var buf bytes.Buffer
	err := b.tmpl.Execute(&buf, map[string]any{
		"name":         p.UserName,
		"date":         now.Format("Monday, January 2, 2006"),
		"location":     formatLocation(p.Location),
		"tools":        p.Tools,
		"memory":       p.Memory,
		"instructions": strings.TrimSpace(p.Instructions),
	})
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func formatLocation(loc *model.UserLocation) string {
	if loc.IsZero() {
		return ""
	}
	var parts []string
	for _, p := range []string{loc.City, loc.Region, loc.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	out := strings.Join(parts, ", ")
	if loc.Timezone != "" {
		if out == "" {
			return loc.Timezone
		}
		out += " (" + loc.Timezone + ")"
	}
	return out
}
