// ABOUTME: Dispatcher runs the inbound reply cycle: store, check mode, match, generate, reply
// ABOUTME: Maps assistant failures to recoverable errors and never rolls back the inbound message

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/support-gateway/internal/assistant"
	"github.com/2389/support-gateway/internal/contact"
	"github.com/2389/support-gateway/internal/email"
	"github.com/2389/support-gateway/internal/presence"
	"github.com/2389/support-gateway/internal/store"
)

// Errors returned after the inbound message was stored. The caller may
// retry with the same ClientMessageID to run the reply cycle again.
var (
	ErrUpstreamTimeout = errors.New("assistant timed out")
	ErrUpstream        = errors.New("assistant failed")
	ErrRateLimited     = errors.New("rate limited")
)

// errSeized marks a generation cancelled because a human took over.
var errSeized = errors.New("session switched to manual")

// AssistantActorID is the presence actor used for automated replies.
const AssistantActorID = "assistant"

const (
	DefaultTimeout        = 30 * time.Second
	DefaultRatePerMinute  = 60
	DefaultBurst          = 10
	DefaultAssistantName  = "Assistant"
	tracerName            = "github.com/2389/support-gateway/internal/dispatch"
	replyClientIDPrefix   = "reply:"
	generationHistorySize = assistant.HistoryTurns + 1
)

// Action is what the dispatcher did after storing the inbound message.
type Action string

const (
	// ActionNone means no automated reply: manual mode, no assistant, an
	// empty generation, or a duplicate delivery.
	ActionNone Action = "none"
	// ActionCanned means a knowledge entry answered verbatim.
	ActionCanned Action = "canned"
	// ActionAI means the assistant's reply was stored.
	ActionAI Action = "ai"
	// ActionSuppressed means a reply was ready but the session had been
	// switched to manual, so it was dropped.
	ActionSuppressed Action = "suppressed"
)

// Inbound is one visitor message.
type Inbound struct {
	OrgID           string
	SessionID       string
	Origin          store.Origin
	Content         string
	Identity        contact.Identity
	Email           *store.EmailPayload
	ClientMessageID string
}

// Result describes a completed (or partially completed) cycle. It is
// returned alongside recoverable errors whenever the inbound message was
// stored.
type Result struct {
	Inbound      *store.Message
	Conversation *store.Conversation
	Contact      *store.Contact
	Reply        *store.Message
	Action       Action
	Entry        *store.KnowledgeEntry
	Duplicate    bool
}

// Conversations stores and reads messages.
type Conversations interface {
	AppendMessage(ctx context.Context, p *store.AppendParams) (*store.AppendResult, error)
	History(ctx context.Context, orgID, sessionID string, n int) ([]*store.Message, error)
	GetConversation(ctx context.Context, orgID, sessionID string) (*store.Conversation, error)
}

// Contacts resolves visitor identities.
type Contacts interface {
	Resolve(ctx context.Context, orgID string, id contact.Identity) (*store.Contact, error)
}

// Knowledge selects canned responses and provides the knowledge base.
type Knowledge interface {
	Match(ctx context.Context, orgID, text string) (*store.KnowledgeEntry, error)
	ActiveEntries(ctx context.Context, orgID string) ([]*store.KnowledgeEntry, error)
}

// Modes reads the responder mode and reports changes.
type Modes interface {
	Mode(ctx context.Context, orgID, sessionID string) (store.Mode, error)
	Watch(orgID, sessionID string) (<-chan store.Mode, func())
}

// Presence publishes the assistant's typing state.
type Presence interface {
	SetPresence(ctx context.Context, u presence.Update) (bool, error)
}

// Deps are the dispatcher's collaborators. Contacts, Presence and
// Generator may be nil.
type Deps struct {
	Conversations Conversations
	Contacts      Contacts
	Knowledge     Knowledge
	Modes         Modes
	Presence      Presence
	Generator     assistant.Generator
}

// Options tunes the dispatcher. Zero values select defaults; a negative
// rate disables that limiter.
type Options struct {
	// Timeout bounds one assistant call.
	Timeout time.Duration
	// RatePerMinute and Burst limit assistant calls per organization.
	RatePerMinute float64
	Burst         int
	// InboundPerMinute and InboundBurst limit visitor messages per session.
	// Zero disables the inbound limit.
	InboundPerMinute float64
	InboundBurst     int
	// AssistantName is shown as the author of automated replies.
	AssistantName string
	// SerializeSessions holds a per-session lock for the whole cycle.
	SerializeSessions bool
	// Tracer defaults to the global OpenTelemetry provider.
	Tracer trace.Tracer
}

// Dispatcher runs reply cycles. It is safe for concurrent use.
type Dispatcher struct {
	deps      Deps
	opts      Options
	generate  *keyedLimiter
	inbound   *keyedLimiter
	locks     *sessionLocks
	tracer    trace.Tracer
	logger    *slog.Logger
	generated atomic.Int64
}

// New creates a Dispatcher.
func New(deps Deps, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RatePerMinute == 0 {
		opts.RatePerMinute = DefaultRatePerMinute
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.InboundBurst <= 0 {
		opts.InboundBurst = 5
	}
	if strings.TrimSpace(opts.AssistantName) == "" {
		opts.AssistantName = DefaultAssistantName
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	d := &Dispatcher{
		deps:     deps,
		opts:     opts,
		generate: newKeyedLimiter(opts.RatePerMinute, opts.Burst),
		inbound:  newKeyedLimiter(opts.InboundPerMinute, opts.InboundBurst),
		tracer:   tracer,
		logger:   logger.With("component", "dispatch"),
	}
	if opts.SerializeSessions {
		d.locks = newSessionLocks()
	}
	return d
}

// Generations reports how many assistant calls have been made.
func (d *Dispatcher) Generations() int64 {
	return d.generated.Load()
}

// HandleInbound stores a visitor message and, when automation is allowed,
// replies to it. When the returned Result is non-nil the inbound message is
// durably stored even if err is also non-nil.
func (d *Dispatcher) HandleInbound(ctx context.Context, in *Inbound) (res *Result, err error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.HandleInbound", trace.WithAttributes(
		attribute.String("org.id", in.OrgID),
		attribute.String("session.id", in.SessionID),
		attribute.String("origin", string(in.Origin)),
	))
	defer func() {
		if res != nil {
			span.SetAttributes(attribute.String("dispatch.action", string(res.Action)))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if strings.TrimSpace(in.OrgID) == "" {
		return nil, store.Invalid("org_id", "required")
	}
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, store.Invalid("session_id", "required")
	}
	if !d.inbound.allow(in.OrgID + "/" + in.SessionID) {
		return nil, fmt.Errorf("%w: too many messages for this conversation", ErrRateLimited)
	}

	if d.locks != nil {
		unlock := d.locks.lock(in.OrgID + "/" + in.SessionID)
		defer unlock()
	}

	var c *store.Contact
	if d.deps.Contacts != nil {
		id := in.Identity
		if id.ContactID == "" && strings.TrimSpace(id.Email) == "" && !id.Empty() {
			// Without an email the only stable key is the session's contact.
			conv, err := d.deps.Conversations.GetConversation(ctx, in.OrgID, in.SessionID)
			switch {
			case err == nil:
				id.ContactID = conv.ContactID
			case !errors.Is(err, store.ErrNotFound):
				return nil, fmt.Errorf("looking up conversation: %w", err)
			}
		}
		c, err = d.deps.Contacts.Resolve(ctx, in.OrgID, id)
		if err != nil {
			return nil, fmt.Errorf("resolving contact: %w", err)
		}
	}

	params := &store.AppendParams{
		OrgID:           in.OrgID,
		SessionID:       in.SessionID,
		Origin:          in.Origin,
		Role:            store.RoleUser,
		Content:         in.Content,
		Source:          store.SourceVisitor,
		ClientMessageID: in.ClientMessageID,
		Email:           in.Email,
	}
	if c != nil {
		params.ContactID = c.ID
		params.ContactName = c.FullName
		params.ContactEmail = c.Email
	}

	appended, err := d.deps.Conversations.AppendMessage(ctx, params)
	if err != nil {
		return nil, err
	}
	res = &Result{
		Inbound:      appended.Message,
		Conversation: appended.Conversation,
		Contact:      c,
		Action:       ActionNone,
		Duplicate:    appended.Duplicate,
	}

	if appended.Duplicate {
		retry, err := d.awaitingReply(ctx, appended.Message)
		if err != nil || !retry {
			return res, err
		}
		d.logger.Info("retrying reply cycle for redelivered message",
			"org_id", in.OrgID,
			"session_id", in.SessionID,
			"message_id", appended.Message.ID)
	}

	defer d.idle(ctx, in.OrgID, in.SessionID)

	if err := d.reply(ctx, res); err != nil {
		d.logger.Warn("automated reply failed",
			"org_id", in.OrgID,
			"session_id", in.SessionID,
			"message_id", res.Inbound.ID,
			"error", err)
		return res, err
	}
	return res, nil
}

// awaitingReply reports whether a redelivered message is still the last
// message of its session, meaning the earlier attempt never replied.
func (d *Dispatcher) awaitingReply(ctx context.Context, msg *store.Message) (bool, error) {
	tail, err := d.deps.Conversations.History(ctx, msg.OrgID, msg.SessionID, 1)
	if err != nil {
		return false, fmt.Errorf("reading history: %w", err)
	}
	return len(tail) == 1 && tail[0].ID == msg.ID, nil
}

// reply runs steps three to six of the cycle and fills res.
func (d *Dispatcher) reply(ctx context.Context, res *Result) error {
	msg := res.Inbound
	mode, err := d.deps.Modes.Mode(ctx, msg.OrgID, msg.SessionID)
	if err != nil {
		return err
	}
	if mode == store.ModeManual {
		d.logger.Debug("manual mode, leaving for a human",
			"org_id", msg.OrgID,
			"session_id", msg.SessionID)
		return nil
	}

	modeChanges, stopWatching := d.deps.Modes.Watch(msg.OrgID, msg.SessionID)
	defer stopWatching()

	entry, err := d.deps.Knowledge.Match(ctx, msg.OrgID, msg.Content)
	if err != nil {
		return fmt.Errorf("matching knowledge: %w", err)
	}
	if entry != nil {
		res.Entry = entry
		d.logger.Info("canned response matched",
			"org_id", msg.OrgID,
			"session_id", msg.SessionID,
			"entry_id", entry.ID,
			"title", entry.Title)
		return d.send(ctx, res, entry.Content, store.SourceCanned, ActionCanned)
	}

	if d.deps.Generator == nil {
		return nil
	}

	text, err := d.generateReply(ctx, msg, modeChanges)
	switch {
	case errors.Is(err, errSeized):
		res.Action = ActionSuppressed
		d.logger.Info("assistant reply abandoned, session taken over",
			"org_id", msg.OrgID,
			"session_id", msg.SessionID)
		return nil
	case err != nil:
		return err
	case text == "":
		return nil
	}
	return d.send(ctx, res, text, store.SourceAI, ActionAI)
}

// generateReply calls the assistant under the org rate limit and timeout.
// The call is cancelled if the session switches to manual meanwhile.
func (d *Dispatcher) generateReply(ctx context.Context, msg *store.Message, modeChanges <-chan store.Mode) (string, error) {
	if !d.generate.allow(msg.OrgID) {
		return "", fmt.Errorf("%w: assistant quota exceeded for organization", ErrRateLimited)
	}

	entries, err := d.deps.Knowledge.ActiveEntries(ctx, msg.OrgID)
	if err != nil {
		// The assistant can still answer without the knowledge base.
		d.logger.Warn("knowledge base unavailable for assistant", "org_id", msg.OrgID, "error", err)
	}
	history, err := d.deps.Conversations.History(ctx, msg.OrgID, msg.SessionID, generationHistorySize)
	if err != nil {
		return "", fmt.Errorf("reading history: %w", err)
	}

	d.typing(ctx, msg.OrgID, msg.SessionID)

	genCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	var seized atomic.Bool
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case m := <-modeChanges:
				if m == store.ModeManual {
					seized.Store(true)
					cancel()
					return
				}
			case <-done:
				return
			}
		}
	}()

	d.generated.Add(1)
	start := time.Now()
	text, err := d.deps.Generator.GenerateReply(genCtx, &assistant.Request{
		OrgID:     msg.OrgID,
		SessionID: msg.SessionID,
		Knowledge: entries,
		History:   history,
		Message:   msg.Content,
	})
	elapsed := time.Since(start)

	switch {
	case seized.Load():
		return "", errSeized
	case err == nil:
		d.logger.Debug("assistant replied",
			"org_id", msg.OrgID,
			"session_id", msg.SessionID,
			"elapsed", elapsed)
		return strings.TrimSpace(text), nil
	case errors.Is(err, assistant.ErrEmptyReply):
		return "", nil
	case ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(genCtx.Err(), context.DeadlineExceeded):
		return "", fmt.Errorf("%w after %s", ErrUpstreamTimeout, d.opts.Timeout)
	default:
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
}

// send re-checks the mode and stores an automated reply.
func (d *Dispatcher) send(ctx context.Context, res *Result, content string, source store.Source, action Action) error {
	msg := res.Inbound
	mode, err := d.deps.Modes.Mode(ctx, msg.OrgID, msg.SessionID)
	if err != nil {
		return err
	}
	if mode == store.ModeManual {
		res.Action = ActionSuppressed
		d.logger.Info("automated reply suppressed, session switched to manual",
			"org_id", msg.OrgID,
			"session_id", msg.SessionID,
			"source", source)
		return nil
	}

	params := &store.AppendParams{
		OrgID:           msg.OrgID,
		SessionID:       msg.SessionID,
		Role:            store.RoleAssistant,
		Content:         content,
		Source:          source,
		AgentName:       d.opts.AssistantName,
		ClientMessageID: replyClientIDPrefix + msg.ID,
	}
	if res.Conversation != nil && res.Conversation.Origin == store.OriginEmail {
		payload, err := email.Render(res.Conversation, content)
		if err != nil {
			d.logger.Warn("failed to render email reply", "session_id", msg.SessionID, "error", err)
		} else {
			params.Email = payload
		}
	}

	appended, err := d.deps.Conversations.AppendMessage(ctx, params)
	if err != nil {
		return fmt.Errorf("storing reply: %w", err)
	}
	res.Reply = appended.Message
	res.Conversation = appended.Conversation
	res.Action = action
	return nil
}

// typing marks the assistant as composing. Presence is best-effort.
func (d *Dispatcher) typing(ctx context.Context, orgID, sessionID string) {
	d.setPresence(ctx, orgID, sessionID, presence.StatusTyping, false)
}

// idle forces the assistant's presence back to idle at the end of a cycle.
func (d *Dispatcher) idle(ctx context.Context, orgID, sessionID string) {
	d.setPresence(context.WithoutCancel(ctx), orgID, sessionID, presence.StatusIdle, true)
}

func (d *Dispatcher) setPresence(ctx context.Context, orgID, sessionID string, status presence.Status, force bool) {
	if d.deps.Presence == nil {
		return
	}
	_, err := d.deps.Presence.SetPresence(ctx, presence.Update{
		OrgID:     orgID,
		SessionID: sessionID,
		ActorID:   AssistantActorID,
		ActorName: d.opts.AssistantName,
		Status:    status,
		Force:     force,
	})
	if err != nil {
		d.logger.Debug("assistant presence update failed",
			"org_id", orgID,
			"session_id", sessionID,
			"status", status,
			"error", err)
	}
}
