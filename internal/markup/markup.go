// ABOUTME: Renders message markup to HTML for widget and dashboard payloads
// ABOUTME: HTML in message content is escaped to visible text, never passed through

package markup

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// escaper neutralizes HTML before markdown parsing. Goldmark's default
// renderer drops raw HTML blocks wholesale, taking adjacent visitor text with
// them; escaping first keeps that text visible as literal characters.
var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;")

// Render converts a message's simple markup to HTML. Anything that looks
// like HTML in the content arrives as visible text, never as markup. On
// render failure the original text is returned untouched — presentation is
// never worth failing a message for.
func Render(content string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(escaper.Replace(content)), &buf); err != nil {
		return content
	}
	return strings.TrimSpace(buf.String())
}
