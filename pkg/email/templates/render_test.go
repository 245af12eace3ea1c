package templates_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/opshub/pkg/email/templates"
)

func TestLayout(t *testing.T) {
	t.Parallel()

	html, err := templates.Render(context.Background(), templates.Layout(templates.LayoutData{
		Title:    "Tarea <asignada>",
		Content:  "<p>Revisar contrato</p>",
		PixelURL: "https://ops.example.com/t/abc.gif",
		Footer:   "Ops Hub",
	}))
	require.NoError(t, err)

	assert.Contains(t, html, "Tarea &lt;asignada&gt;")
	assert.Contains(t, html, "<p>Revisar contrato</p>")
	assert.Contains(t, html, `src="https://ops.example.com/t/abc.gif"`)
	assert.Contains(t, html, "Ops Hub")
}

func TestLayout_NoPixel(t *testing.T) {
	t.Parallel()

	html, err := templates.Render(context.Background(), templates.Layout(templates.LayoutData{Title: "x", Content: "y"}))
	require.NoError(t, err)
	assert.NotContains(t, html, "<img")
	assert.NotContains(t, html, "padding-top:24px", "footer row is omitted without a footer")
	assert.True(t, strings.HasPrefix(html, "<!doctype html>"))
}
