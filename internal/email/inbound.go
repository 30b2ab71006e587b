// ABOUTME: Inbound email normalization and thread-stable session ids
// ABOUTME: Falls back to visible HTML text when a provider omits the plain part

package email

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/2389/support-gateway/internal/contact"
	"github.com/2389/support-gateway/internal/store"
)

// Inbound is the webhook body posted by the mail provider.
type Inbound struct {
	OrgID     string `json:"org"`
	From      string `json:"from"`
	FromName  string `json:"from_name,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Text      string `json:"text,omitempty"`
	HTML      string `json:"html,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Message is a validated inbound email ready for dispatch.
type Message struct {
	OrgID     string
	SessionID string
	Address   string
	Name      string
	Body      string
	Payload   *store.EmailPayload
}

var replyPrefix = regexp.MustCompile(`(?i)^\s*((re|fwd?|aw|sv)\s*(\[\d+\])?\s*:\s*)+`)

// ThreadSubject strips leading reply and forward markers.
func ThreadSubject(subject string) string {
	return strings.TrimSpace(replyPrefix.ReplaceAllString(subject, ""))
}

// SessionID derives the conversation id for a sender and subject thread.
func SessionID(address, subject string) string {
	key := strings.ToLower(strings.TrimSpace(address)) + "\n" + strings.ToLower(ThreadSubject(subject))
	sum := sha256.Sum256([]byte(key))
	return "email-" + hex.EncodeToString(sum[:10])
}

// Normalize validates in and fills defaults.
func Normalize(in Inbound) (*Message, error) {
	orgID := strings.TrimSpace(in.OrgID)
	if orgID == "" {
		return nil, store.Invalid("org", "required")
	}
	address, name, err := contact.NormalizeEmail(in.From)
	if err != nil {
		return nil, err
	}
	if address == "" {
		return nil, store.Invalid("from", "required")
	}
	if n := strings.TrimSpace(in.FromName); n != "" {
		name = n
	}

	body := strings.TrimSpace(in.Text)
	if body == "" && in.HTML != "" {
		body = VisibleText(in.HTML)
	}
	if body == "" {
		return nil, store.Invalid("text", "email has no readable body")
	}

	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = SessionID(address, in.Subject)
	}

	return &Message{
		OrgID:     orgID,
		SessionID: sessionID,
		Address:   address,
		Name:      name,
		Body:      body,
		Payload: &store.EmailPayload{
			Subject:   strings.TrimSpace(in.Subject),
			HTMLBody:  in.HTML,
			TextBody:  in.Text,
			MessageID: strings.TrimSpace(in.MessageID),
		},
	}, nil
}

// VisibleText extracts readable text from an HTML body, skipping scripts
// and styles and separating block elements with newlines.
func VisibleText(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "head":
				return
			case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "blockquote":
				if b.Len() > 0 {
					b.WriteString("\n")
				}
			}
		}
		if n.Type == html.TextNode {
			if val := strings.Join(strings.Fields(n.Data), " "); val != "" {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteString(" ")
				}
				b.WriteString(val)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
