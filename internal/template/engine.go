// Package template extracts, validates and substitutes {{variable}} placeholders in message templates.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"broadcast-dispatch/internal/models"
)

var placeholderPattern = regexp.MustCompile(`{{([a-zA-Z0-9_]+)}}`)

// Locale controls how dates and booleans are rendered.
type Locale struct {
	Code       string
	Yes        string
	No         string
	DateLayout string
}

var (
	LocalePtBR = Locale{Code: "pt_BR", Yes: "Sim", No: "Não", DateLayout: "02/01/2006"}
	LocaleEnUS = Locale{Code: "en_US", Yes: "Yes", No: "No", DateLayout: "1/2/2006"}
)

// LookupLocale returns the locale for code, defaulting to pt_BR.
func LookupLocale(code string) Locale {
	switch strings.ReplaceAll(code, "-", "_") {
	case "en", "en_US":
		return LocaleEnUS
	default:
		return LocalePtBR
	}
}

type Engine struct {
	locale Locale
}

type Option func(*Engine)

func WithLocale(l Locale) Option {
	return func(e *Engine) {
		e.locale = l
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{locale: LocalePtBR}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidationResult lists required variables that were not supplied.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Missing []string `json:"missing"`
}

// Result is the outcome of Process.
type Result struct {
	Content          string   `json:"content"`
	MissingVariables []string `json:"missingVariables"`
	FullyProcessed   bool     `json:"wasFullyProcessed"`
}

// ExtractVariables returns the distinct placeholder names in content, in first-seen order.
func ExtractVariables(content string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// Validate checks that every required variable is supplied. With declared metadata only
// variables marked required count; without it every placeholder in the content does.
// Extra supplied variables are ignored.
func (e *Engine) Validate(tpl *models.Template, vars map[string]interface{}) ValidationResult {
	var missing []string

	if tpl.HasMetadata() {
		names := make([]string, 0, len(tpl.Variables))
		for name := range tpl.Variables {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if tpl.Variables[name].Required && !supplied(vars, name) {
				missing = append(missing, name)
			}
		}
	} else {
		for _, name := range ExtractVariables(tpl.Content) {
			if !supplied(vars, name) {
				missing = append(missing, name)
			}
		}
	}

	if missing == nil {
		missing = []string{}
	}
	return ValidationResult{Valid: len(missing) == 0, Missing: missing}
}

// Render substitutes every supplied variable. Placeholders without a value stay in place.
func (e *Engine) Render(tpl *models.Template, vars map[string]interface{}) string {
	return e.RenderContent(tpl.Content, tpl.Variables, vars)
}

// RenderContent is Render for raw content and optional metadata.
func (e *Engine) RenderContent(content string, meta map[string]models.VariableMetadata, vars map[string]interface{}) string {
	if len(vars) == 0 || !strings.Contains(content, "{{") {
		return content
	}

	return placeholderPattern.ReplaceAllStringFunc(content, func(token string) string {
		name := token[2 : len(token)-2]
		value, ok := vars[name]
		if !ok || value == nil {
			return token
		}
		return e.format(meta[name].Type, value)
	})
}

// Process validates and renders in one call. Rendering proceeds even when variables are missing.
func (e *Engine) Process(tpl *models.Template, vars map[string]interface{}) Result {
	v := e.Validate(tpl, vars)
	return Result{
		Content:          e.Render(tpl, vars),
		MissingVariables: v.Missing,
		FullyProcessed:   v.Valid,
	}
}

// WithDefaults returns vars completed with the declared default values.
func WithDefaults(tpl *models.Template, vars map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(vars)+len(tpl.Variables))
	for name, meta := range tpl.Variables {
		if meta.DefaultValue != nil {
			out[name] = meta.DefaultValue
		}
	}
	for k, v := range vars {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func supplied(vars map[string]interface{}, name string) bool {
	v, ok := vars[name]
	return ok && v != nil
}

func (e *Engine) format(kind models.VariableType, value interface{}) string {
	switch kind {
	case models.VariableImage, models.VariableFile:
		if m, ok := value.(map[string]interface{}); ok {
			if url, ok := m["url"].(string); ok && url != "" {
				return url
			}
		}
		return stringify(value)
	case models.VariableDate:
		switch t := value.(type) {
		case time.Time:
			return t.Format(e.locale.DateLayout)
		case *time.Time:
			if t != nil {
				return t.Format(e.locale.DateLayout)
			}
		}
		return stringify(value)
	case models.VariableBoolean:
		if truthy(value) {
			return e.locale.Yes
		}
		return e.locale.No
	default:
		return stringify(value)
	}
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func truthy(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return value != nil
	}
}
