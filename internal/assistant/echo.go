// ABOUTME: Deterministic generator for local development and tests
// ABOUTME: Replies with the first knowledge entry title or echoes the message

package assistant

import (
	"context"
	"fmt"
	"strings"
)

// Echo answers without calling a model.
type Echo struct{}

// GenerateReply returns a canned acknowledgement that quotes the message.
func (Echo) GenerateReply(ctx context.Context, req *Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return "", ErrEmptyReply
	}
	return fmt.Sprintf("Thanks for your message: %q. A teammate will follow up shortly.", msg), nil
}
