// Package templates renders HTML email documents with github.com/a-h/templ.
package templates

import (
	"context"
	"strings"

	"github.com/a-h/templ"
)

// Render renders tpl to a string.
func Render(ctx context.Context, tpl templ.Component) (string, error) {
	var sb strings.Builder
	if err := tpl.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// LayoutData feeds Layout. Content is trusted, already escaped HTML; every
// other field is escaped on output.
type LayoutData struct {
	Title    string
	Content  string
	PixelURL string
	Footer   string
}
