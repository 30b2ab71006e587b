// ABOUTME: Behavioural tests run against both SQLiteStore and MockStore
// ABOUTME: Covers append ordering, summaries, tenancy, dedupe, mutations and knowledge entries

package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a settable time source for store-assigned timestamps.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// eachStore runs fn against a fresh SQLite store and a fresh MockStore,
// both driven by the returned clock.
func eachStore(t *testing.T, fn func(t *testing.T, s Store, clk *clock)) {
	t.Run("sqlite", func(t *testing.T) {
		clk := &clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
		s := newTestStore(t)
		s.now = clk.Now
		fn(t, s, clk)
	})
	t.Run("mock", func(t *testing.T) {
		clk := &clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
		s := NewMockStore()
		s.Now = clk.Now
		fn(t, s, clk)
	})
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func userMessage(org, session, content string) *AppendParams {
	return &AppendParams{
		OrgID:     org,
		SessionID: session,
		Origin:    OriginChat,
		Role:      RoleUser,
		Content:   content,
	}
}

func TestAppendMessage_CreatesConversation(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()

		res, err := s.AppendMessage(ctx, &AppendParams{
			OrgID:        "acme",
			SessionID:    "s1",
			Role:         RoleUser,
			Content:      "hello there",
			ContactID:    "c1",
			ContactName:  "Ada",
			ContactEmail: "ada@example.com",
		})
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.False(t, res.Duplicate)
		assert.Equal(t, int64(1), res.Message.Seq)
		assert.Equal(t, SourceVisitor, res.Message.Source)
		assert.True(t, clk.Now().Equal(res.Message.CreatedAt))

		conv, err := s.GetConversation(ctx, "acme", "s1")
		require.NoError(t, err)
		assert.Equal(t, OriginChat, conv.Origin)
		assert.Equal(t, StatusOpen, conv.Status)
		assert.Equal(t, ModeAgent, conv.Mode)
		assert.Equal(t, 1, conv.TotalMessages)
		assert.Equal(t, RoleUser, conv.LastRole)
		assert.Equal(t, "hello there", conv.LastMessage)
		assert.Equal(t, "Ada", conv.ContactName)
		assert.Equal(t, "ada@example.com", conv.ContactEmail)
		assert.True(t, conv.FirstAt.Equal(conv.LastAt))
	})
}

func TestAppendMessage_UpdatesSummary(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		first := clk.Now()

		_, err := s.AppendMessage(ctx, userMessage("acme", "s1", "hi"))
		require.NoError(t, err)

		clk.Set(first.Add(time.Minute))
		res, err := s.AppendMessage(ctx, &AppendParams{
			OrgID:     "acme",
			SessionID: "s1",
			Role:      RoleAssistant,
			Content:   "How can I help?",
			Source:    SourceAI,
		})
		require.NoError(t, err)
		assert.False(t, res.Created)
		assert.Equal(t, int64(2), res.Message.Seq)

		conv, err := s.GetConversation(ctx, "acme", "s1")
		require.NoError(t, err)
		assert.Equal(t, 2, conv.TotalMessages)
		assert.Equal(t, RoleAssistant, conv.LastRole)
		assert.Equal(t, "How can I help?", conv.LastMessage)
		assert.True(t, conv.FirstAt.Equal(first))
		assert.True(t, conv.LastAt.Equal(first.Add(time.Minute)))
	})
}

func TestAppendMessage_RejectsEmptyContent(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()

		_, err := s.AppendMessage(ctx, userMessage("acme", "s1", "   \n\t"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "content", verr.Field)

		_, err = s.GetConversation(ctx, "acme", "s1")
		assert.ErrorIs(t, err, ErrNotFound, "rejected append must not create a conversation")
	})
}

func TestAppendMessage_OrderingSurvivesClockSkew(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		base := clk.Now()

		_, err := s.AppendMessage(ctx, userMessage("acme", "s1", "one"))
		require.NoError(t, err)

		// Same instant, then the clock steps backwards.
		_, err = s.AppendMessage(ctx, userMessage("acme", "s1", "two"))
		require.NoError(t, err)
		clk.Set(base.Add(-time.Hour))
		_, err = s.AppendMessage(ctx, userMessage("acme", "s1", "three"))
		require.NoError(t, err)
		clk.Set(base.Add(time.Second))
		_, err = s.AppendMessage(ctx, userMessage("acme", "s1", "four"))
		require.NoError(t, err)

		msgs, err := s.ListMessages(ctx, "acme", "s1")
		require.NoError(t, err)
		require.Len(t, msgs, 4)

		var contents []string
		for i, m := range msgs {
			contents = append(contents, m.Content)
			if i == 0 {
				continue
			}
			prev := msgs[i-1]
			assert.False(t, m.CreatedAt.Before(prev.CreatedAt), "timestamps must not go backwards")
			assert.Greater(t, m.Seq, prev.Seq)
		}
		assert.Equal(t, []string{"one", "two", "three", "four"}, contents)

		conv, err := s.GetConversation(ctx, "acme", "s1")
		require.NoError(t, err)
		assert.False(t, conv.LastAt.Before(conv.FirstAt))
	})
}

func TestAppendMessage_DedupesClientMessageID(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()

		p := userMessage("acme", "s1", "hello")
		p.ClientMessageID = "client-1"

		first, err := s.AppendMessage(ctx, p)
		require.NoError(t, err)

		again, err := s.AppendMessage(ctx, p)
		require.NoError(t, err)
		assert.True(t, again.Duplicate)
		assert.Equal(t, first.Message.ID, again.Message.ID)

		msgs, err := s.ListMessages(ctx, "acme", "s1")
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})
}

func TestAppendMessage_EmailPayloadAndSubject(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()

		_, err := s.AppendMessage(ctx, &AppendParams{
			OrgID:     "acme",
			SessionID: "mail-1",
			Origin:    OriginEmail,
			Role:      RoleUser,
			Content:   "My order is late",
			Email: &EmailPayload{
				Subject:  "Order #42",
				TextBody: "My order is late",
				HTMLBody: "<p>My order is late</p>",
			},
		})
		require.NoError(t, err)

		conv, err := s.GetConversation(ctx, "acme", "mail-1")
		require.NoError(t, err)
		assert.Equal(t, OriginEmail, conv.Origin)
		assert.Equal(t, "Order #42", conv.Subject)

		msgs, err := s.ListMessages(ctx, "acme", "mail-1")
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.NotNil(t, msgs[0].Email)
		assert.Equal(t, "<p>My order is late</p>", msgs[0].Email.HTMLBody)
	})
}

func TestConversations_AreScopedByOrg(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()

		_, err := s.AppendMessage(ctx, userMessage("acme", "s1", "hi"))
		require.NoError(t, err)

		_, err = s.GetConversation(ctx, "globex", "s1")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.ListMessages(ctx, "globex", "s1")
		assert.ErrorIs(t, err, ErrNotFound)

		convs, err := s.ListConversations(ctx, "globex", 0)
		require.NoError(t, err)
		assert.Empty(t, convs)

		_, err = s.SetMode(ctx, "globex", "s1", ModeManual, Actor{})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListConversations_MostRecentFirst(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		base := clk.Now()

		for i, session := range []string{"a", "b", "c"} {
			clk.Set(base.Add(time.Duration(i) * time.Minute))
			_, err := s.AppendMessage(ctx, userMessage("acme", session, "hi"))
			require.NoError(t, err)
		}
		clk.Set(base.Add(10 * time.Minute))
		_, err := s.AppendMessage(ctx, userMessage("acme", "a", "back again"))
		require.NoError(t, err)

		convs, err := s.ListConversations(ctx, "acme", 0)
		require.NoError(t, err)
		require.Len(t, convs, 3)
		assert.Equal(t, "a", convs[0].SessionID)
		assert.Equal(t, "c", convs[1].SessionID)
		assert.Equal(t, "b", convs[2].SessionID)

		limited, err := s.ListConversations(ctx, "acme", 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})
}

func TestSetStatus_AnyTransitionRecordsEvent(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()
		actor := Actor{ID: "agent-1", Name: "Grace"}

		_, err := s.AppendMessage(ctx, userMessage("acme", "s1", "hi"))
		require.NoError(t, err)

		for _, status := range []Status{StatusClosed, StatusOpen, StatusSnoozed, StatusClosed} {
			changed, err := s.SetStatus(ctx, "acme", "s1", status, actor)
			require.NoError(t, err)
			assert.True(t, changed)
		}

		changed, err := s.SetStatus(ctx, "acme", "s1", StatusClosed, actor)
		require.NoError(t, err)
		assert.False(t, changed, "setting the current status is a no-op")

		conv, err := s.GetConversation(ctx, "acme", "s1")
		require.NoError(t, err)
		assert.Equal(t, StatusClosed, conv.Status)

		events, err := s.ListEvents(ctx, "acme", "s1", 0)
		require.NoError(t, err)
		require.Len(t, events, 4)
		assert.Equal(t, EventStatusChanged, events[0].Type)
		assert.Equal(t, "Grace", events[0].ActorName)
		assert.JSONEq(t, `{"from":"snoozed","to":"closed"}`, events[0].Payload)

		_, err = s.SetStatus(ctx, "acme", "s1", Status("archived"), actor)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestSetMode_IdempotentAndAudited(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()

		_, err := s.AppendMessage(ctx, userMessage("acme", "s1", "hi"))
		require.NoError(t, err)

		changed, err := s.SetMode(ctx, "acme", "s1", ModeManual, Actor{ID: "a1"})
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = s.SetMode(ctx, "acme", "s1", ModeManual, Actor{ID: "a1"})
		require.NoError(t, err)
		assert.False(t, changed)

		conv, err := s.GetConversation(ctx, "acme", "s1")
		require.NoError(t, err)
		assert.Equal(t, ModeManual, conv.Mode)

		events, err := s.ListEvents(ctx, "acme", "s1", 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, EventModeChanged, events[0].Type)
	})
}

func TestSetAssignee_AssignAndClear(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()

		_, err := s.AppendMessage(ctx, userMessage("acme", "s1", "hi"))
		require.NoError(t, err)

		changed, err := s.SetAssignee(ctx, "acme", "s1", "agent-7", "Linus", Actor{ID: "lead"})
		require.NoError(t, err)
		assert.True(t, changed)

		conv, err := s.GetConversation(ctx, "acme", "s1")
		require.NoError(t, err)
		assert.Equal(t, "agent-7", conv.AssignedAgentID)
		assert.Equal(t, "Linus", conv.AssignedAgentName)

		changed, err = s.SetAssignee(ctx, "acme", "s1", "", "", Actor{ID: "lead"})
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = s.SetAssignee(ctx, "acme", "s1", "", "", Actor{ID: "lead"})
		require.NoError(t, err)
		assert.False(t, changed)

		events, err := s.ListEvents(ctx, "acme", "s1", 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, EventAssignmentCleared, events[0].Type)
		assert.Equal(t, EventAssignmentChanged, events[1].Type)
	})
}

func TestNotes(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()

		err := s.AddNote(ctx, &Note{OrgID: "acme", SessionID: "missing", Note: "x"})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.AppendMessage(ctx, userMessage("acme", "s1", "hi"))
		require.NoError(t, err)

		err = s.AddNote(ctx, &Note{OrgID: "acme", SessionID: "s1", Note: "  "})
		assert.ErrorIs(t, err, ErrValidation)

		note := &Note{OrgID: "acme", SessionID: "s1", Note: "VIP customer", ActorID: "a1", ActorName: "Grace"}
		require.NoError(t, s.AddNote(ctx, note))
		assert.NotEmpty(t, note.ID)

		notes, err := s.ListNotes(ctx, "acme", "s1")
		require.NoError(t, err)
		require.Len(t, notes, 1)
		assert.Equal(t, "VIP customer", notes[0].Note)

		events, err := s.ListEvents(ctx, "acme", "s1", 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, EventNoteAdded, events[0].Type)
	})
}

func TestContacts(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()

		c := &Contact{OrgID: "acme", Email: "ada@example.com", FullName: "Ada", Tags: []string{"vip"}}
		require.NoError(t, s.CreateContact(ctx, c))
		require.NotEmpty(t, c.ID)

		got, err := s.GetContactByEmail(ctx, "acme", "ada@example.com")
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
		assert.Equal(t, []string{"vip"}, got.Tags)

		_, err = s.GetContactByEmail(ctx, "globex", "ada@example.com")
		assert.ErrorIs(t, err, ErrNotFound)

		dup := &Contact{OrgID: "acme", Email: "ada@example.com"}
		assert.ErrorIs(t, s.CreateContact(ctx, dup), ErrDuplicate)

		// Same email in another org is a different contact.
		require.NoError(t, s.CreateContact(ctx, &Contact{OrgID: "globex", Email: "ada@example.com"}))

		// Contacts without email don't collide.
		require.NoError(t, s.CreateContact(ctx, &Contact{OrgID: "acme", Phone: "555-1"}))
		require.NoError(t, s.CreateContact(ctx, &Contact{OrgID: "acme", Phone: "555-2"}))

		got.Company = "Analytical Engines"
		require.NoError(t, s.UpdateContact(ctx, got))
		reloaded, err := s.GetContact(ctx, "acme", got.ID)
		require.NoError(t, err)
		assert.Equal(t, "Analytical Engines", reloaded.Company)

		assert.ErrorIs(t, s.UpdateContact(ctx, &Contact{OrgID: "acme", ID: "nope"}), ErrNotFound)
	})
}

func TestKnowledgeEntries(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store, clk *clock) {
		ctx := context.Background()

		entry := &KnowledgeEntry{
			OrgID:   "acme",
			Title:   " Hours ",
			Slug:    " Hours ",
			Content: "We're open 9-5 ET.",
			Phrases: []string{" business hours ", "", "opening times"},
			Active:  true,
		}
		require.NoError(t, s.UpsertKnowledgeEntry(ctx, entry))
		assert.NotEmpty(t, entry.ID)
		assert.Equal(t, "Hours", entry.Title)
		assert.Equal(t, "hours", entry.Slug)
		assert.Equal(t, MatchContains, entry.MatchMode)
		assert.Equal(t, []string{"business hours", "opening times"}, entry.Phrases)

		inactive := &KnowledgeEntry{OrgID: "acme", Title: "Old", Content: "x", Active: false}
		require.NoError(t, s.UpsertKnowledgeEntry(ctx, inactive))

		all, err := s.ListKnowledgeEntries(ctx, "acme", false)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		active, err := s.ListKnowledgeEntries(ctx, "acme", true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, entry.ID, active[0].ID)

		// Update keeps CreatedAt and bumps UpdatedAt.
		created := entry.CreatedAt
		clk.Set(clk.Now().Add(time.Hour))
		entry.Priority = 5
		require.NoError(t, s.UpsertKnowledgeEntry(ctx, entry))
		active, err = s.ListKnowledgeEntries(ctx, "acme", true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, 5, active[0].Priority)
		assert.True(t, active[0].CreatedAt.Equal(created))
		assert.True(t, active[0].UpdatedAt.After(created))

		// Another org cannot overwrite or delete it.
		hijack := &KnowledgeEntry{ID: entry.ID, OrgID: "globex", Title: "t", Content: "c"}
		assert.ErrorIs(t, s.UpsertKnowledgeEntry(ctx, hijack), ErrNotFound)
		assert.ErrorIs(t, s.DeleteKnowledgeEntry(ctx, "globex", entry.ID), ErrNotFound)

		require.NoError(t, s.DeleteKnowledgeEntry(ctx, "acme", entry.ID))
		assert.ErrorIs(t, s.DeleteKnowledgeEntry(ctx, "acme", entry.ID), ErrNotFound)

		bad := &KnowledgeEntry{OrgID: "acme", Title: "t", Content: "c", MatchMode: "fuzzy"}
		assert.ErrorIs(t, s.UpsertKnowledgeEntry(ctx, bad), ErrValidation)
		assert.ErrorIs(t, s.UpsertKnowledgeEntry(ctx, &KnowledgeEntry{OrgID: "acme", Title: "t"}), ErrValidation)
	})
}

func TestSnippet(t *testing.T) {
	short := "hello"
	assert.Equal(t, short, Snippet(short))

	long := make([]rune, SnippetLength+20)
	for i := range long {
		long[i] = 'é'
	}
	assert.Len(t, []rune(Snippet(string(long))), SnippetLength)
}
