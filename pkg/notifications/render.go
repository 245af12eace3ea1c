package notifications

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/a-h/templ"
	"golang.org/x/text/language"

	"github.com/dmitrymomot/opshub/pkg/logger"
)

// Template is an admin-authored template for one (type, channel, locale).
// An empty Locale is the type's default.
type Template struct {
	TypeID    int64     `json:"type_id"`
	Channel   Channel   `json:"channel"`
	Locale    string    `json:"locale"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fallback is a built-in plain-text template used when no admin template
// matches.
type Fallback struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// TemplateSource tells where rendered content came from.
type TemplateSource string

const (
	SourceStore   TemplateSource = "store"
	SourceBuiltin TemplateSource = "builtin"
	SourceGeneric TemplateSource = "generic"
)

// Content is rendered channel content. For email, Body is an HTML fragment
// and Text its plain alternative; for other channels both are plain text.
type Content struct {
	Subject string
	Body    string
	Text    string
	Source  TemplateSource
}

var genericFallback = Fallback{Subject: "{{title}}", Body: "{{message}}"}

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Interpolate replaces {{name}} and {{a.b}} placeholders with values from
// data. Unknown names become empty strings. escape, when set, is applied to
// every substituted value.
func Interpolate(tpl string, data map[string]any, escape func(string) string) string {
	return placeholderRe.ReplaceAllStringFunc(tpl, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		v := lookup(data, key)
		if escape != nil {
			return escape(v)
		}
		return v
	})
}

func lookup(data map[string]any, path string) string {
	var cur any = data
	for part := range strings.SplitSeq(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			cur = m[part]
		case map[string]string:
			cur = m[part]
		default:
			return ""
		}
	}
	switch v := cur.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, map[string]string, []any:
		return ""
	case time.Time:
		return v.Format("02/01/2006 15:04")
	default:
		return fmt.Sprint(v)
	}
}

// LocaleChain returns lookup candidates for locale: the canonical tag, its
// base language, then the default (empty) locale.
func LocaleChain(locale string) []string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return []string{""}
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return []string{""}
	}
	chain := []string{tag.String()}
	if base, conf := tag.Base(); conf != language.No && base.String() != chain[0] {
		chain = append(chain, base.String())
	}
	return append(chain, "")
}

// Renderer produces channel content. Rendering never fails: missing
// templates fall back to built-ins, then to the generic title/message pair.
type Renderer struct {
	store     TemplateStore
	fallbacks map[string]Fallback
	locale    string
	logger    *slog.Logger
}

type RendererOption func(*Renderer)

// WithFallbacks sets built-in templates by type code.
func WithFallbacks(f map[string]Fallback) RendererOption {
	return func(r *Renderer) { r.fallbacks = f }
}

// WithDefaultLocale sets the locale used when a recipient has none.
func WithDefaultLocale(locale string) RendererOption {
	return func(r *Renderer) { r.locale = strings.TrimSpace(locale) }
}

func WithRendererLogger(l *slog.Logger) RendererOption {
	return func(r *Renderer) { r.logger = l }
}

func NewRenderer(store TemplateStore, opts ...RendererOption) *Renderer {
	r := &Renderer{
		store:     store,
		fallbacks: map[string]Fallback{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render resolves a template for (t, ch, locale) and interpolates data.
func (r *Renderer) Render(ctx context.Context, t NotificationType, ch Channel, locale string, data map[string]any) Content {
	if tpl := r.fromStore(ctx, t, ch, locale); tpl != nil {
		c := Content{Source: SourceStore}
		c.Subject = Interpolate(tpl.Subject, data, nil)
		if ch == ChannelEmail {
			c.Body = Interpolate(tpl.Body, data, templ.EscapeString)
			c.Text = Interpolate(htmlToPlain(tpl.Body), data, nil)
		} else {
			c.Body = Interpolate(tpl.Body, data, nil)
			c.Text = c.Body
		}
		return r.finish(c, t, data)
	}

	fb, src := genericFallback, SourceGeneric
	if f, ok := r.fallbacks[t.Code]; ok {
		fb, src = f, SourceBuiltin
	}
	c := Content{Source: src}
	c.Subject = Interpolate(fb.Subject, data, nil)
	c.Text = strings.TrimSpace(Interpolate(fb.Body, data, nil))
	if ch == ChannelEmail {
		c.Body = plainToHTML(Interpolate(fb.Body, data, templ.EscapeString))
	} else {
		c.Body = c.Text
	}
	return r.finish(c, t, data)
}

func (r *Renderer) fromStore(ctx context.Context, t NotificationType, ch Channel, locale string) *Template {
	if r.store == nil {
		return nil
	}
	if strings.TrimSpace(locale) == "" {
		locale = r.locale
	}
	for _, loc := range LocaleChain(locale) {
		tpl, err := r.store.GetTemplate(ctx, t.ID, ch, loc)
		if err == nil {
			return tpl
		}
		if !errors.Is(err, ErrTemplateNotFound) {
			r.logger.WarnContext(ctx, "template lookup failed, using fallback",
				logger.TypeCode(t.Code),
				logger.Channel(string(ch)),
				logger.Error(err),
			)
			return nil
		}
	}
	return nil
}

func (r *Renderer) finish(c Content, t NotificationType, data map[string]any) Content {
	c.Subject = strings.TrimSpace(c.Subject)
	if c.Subject == "" {
		if title := lookup(data, "title"); title != "" {
			c.Subject = title
		} else {
			c.Subject = t.Name
		}
	}
	return c
}

var (
	breakTagRe = regexp.MustCompile(`(?i)<br\s*/?>|</p\s*>|</div\s*>|</h[1-6]\s*>|</li\s*>`)
	anyTagRe   = regexp.MustCompile(`<[^>]*>`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// htmlToPlain derives a plain-text alternative from simple authored markup.
func htmlToPlain(s string) string {
	s = breakTagRe.ReplaceAllString(s, "\n")
	s = anyTagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(blankRunRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

func plainToHTML(s string) string {
	paras := strings.Split(strings.TrimSpace(s), "\n\n")
	var b strings.Builder
	for _, p := range paras {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(p, "\n", "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}
