package render

import (
	"bytes"
	"html"
	"log/slog"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"multimodal-backend/internal/models"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Markdown renders chat content to HTML. Raw HTML in the input is not passed
// through. On a conversion failure the escaped source is returned instead.
func Markdown(src string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		slog.Warn("markdown_render_failed", "error", err)
		return "<p>" + html.EscapeString(src) + "</p>"
	}
	return buf.String()
}

// CodeBlock renders text as a single preformatted block, the way replies to
// code prompts are shown.
func CodeBlock(text string) string {
	return "<pre><code>" + html.EscapeString(text) + "</code></pre>\n"
}

// Reply renders an assistant reply for its delivery mode.
func Reply(text string, delivery models.Delivery) string {
	if delivery == models.DeliveryBlock {
		return CodeBlock(text)
	}
	return Markdown(text)
}
