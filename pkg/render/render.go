// Package render converts page markdown into the HTML subset Telegram
// accepts. It is a pass-through layer only: structure beyond what chat
// messages can show (headings, lists) is flattened to plain lines.
package render

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
)

var (
	headingOpenRe  = regexp.MustCompile(`<h[1-6][^>]*>`)
	headingCloseRe = regexp.MustCompile(`</h[1-6]>`)
	stripTagRe     = regexp.MustCompile(`</?(?:ul|ol|blockquote)[^>]*>`)
)

var tagReplacer = strings.NewReplacer(
	"<p>", "",
	"</p>", "\n",
	"<br>", "\n",
	"<br/>", "\n",
	"<br />", "\n",
	"<li>", "• ",
	"</li>", "\n",
	"<strong>", "<b>",
	"</strong>", "</b>",
	"<em>", "<i>",
	"</em>", "</i>",
	"<del>", "<s>",
	"</del>", "</s>",
	"<hr>", "",
	"<hr/>", "",
	"<hr />", "",
)

// Body renders markdown body text to Telegram HTML. On a render failure
// the text is returned escaped as-is.
func Body(markdown string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return html.EscapeString(markdown)
	}
	out := buf.String()
	out = headingOpenRe.ReplaceAllString(out, "<b>")
	out = headingCloseRe.ReplaceAllString(out, "</b>\n")
	out = stripTagRe.ReplaceAllString(out, "")
	out = tagReplacer.Replace(out)
	return strings.TrimSpace(out)
}

// Title renders a page title as bold Telegram HTML.
func Title(title string) string {
	return "<b>" + html.EscapeString(title) + "</b>"
}

// Escape escapes plain text for inclusion in a Telegram HTML message.
func Escape(text string) string {
	return html.EscapeString(text)
}

// Page combines a title and body into one message.
func Page(title, body string) string {
	rendered := Body(body)
	if rendered == "" {
		return Title(title)
	}
	return Title(title) + "\n\n" + rendered
}
