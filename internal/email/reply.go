// ABOUTME: Renders reply text into an outbound email payload
// ABOUTME: Markdown is converted to HTML with goldmark; the raw text is kept as the plain part

package email

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/2389/support-gateway/internal/store"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

// ReplySubject prefixes subject with "Re: " unless it already has one.
func ReplySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "Re: Your message"
	}
	if replyPrefix.MatchString(subject) && strings.HasPrefix(strings.ToLower(subject), "re") {
		return subject
	}
	return "Re: " + subject
}

// Render builds the email payload for a reply in conv.
func Render(conv *store.Conversation, content string) (*store.EmailPayload, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return nil, fmt.Errorf("rendering reply: %w", err)
	}
	subject := ""
	if conv != nil {
		subject = conv.Subject
	}
	return &store.EmailPayload{
		Subject:  ReplySubject(subject),
		HTMLBody: buf.String(),
		TextBody: content,
	}, nil
}
