// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides org-scoped conversation, contact and knowledge persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	memory := path == ":memory:"

	// Ensure parent directory exists
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Write transactions take the lock up front so concurrent appends queue
	// on busy_timeout instead of failing on lock upgrade.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS contacts (
			id         TEXT PRIMARY KEY,
			org_id     TEXT NOT NULL,
			email      TEXT,
			phone      TEXT NOT NULL DEFAULT '',
			full_name  TEXT NOT NULL DEFAULT '',
			company    TEXT NOT NULL DEFAULT '',
			tags_json  TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_org_email
			ON contacts(org_id, email) WHERE email IS NOT NULL;

		CREATE TABLE IF NOT EXISTS conversations (
			org_id              TEXT NOT NULL,
			session_id          TEXT NOT NULL,
			origin              TEXT NOT NULL,
			contact_id          TEXT NOT NULL DEFAULT '',
			contact_name        TEXT NOT NULL DEFAULT '',
			contact_email       TEXT NOT NULL DEFAULT '',
			subject             TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL,
			mode                TEXT NOT NULL DEFAULT 'agent',
			assigned_agent_id   TEXT NOT NULL DEFAULT '',
			assigned_agent_name TEXT NOT NULL DEFAULT '',
			first_at            TEXT NOT NULL,
			last_at             TEXT NOT NULL,
			last_role           TEXT NOT NULL,
			last_message        TEXT NOT NULL,
			total_messages      INTEGER NOT NULL,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL,

			PRIMARY KEY (org_id, session_id),
			CHECK (origin IN ('chat', 'email')),
			CHECK (status IN ('open', 'snoozed', 'closed')),
			CHECK (mode IN ('agent', 'manual')),
			CHECK (last_at >= first_at)
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_org_last
			ON conversations(org_id, last_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id                TEXT PRIMARY KEY,
			org_id            TEXT NOT NULL,
			session_id        TEXT NOT NULL,
			seq               INTEGER NOT NULL,
			role              TEXT NOT NULL,
			content           TEXT NOT NULL,
			source            TEXT NOT NULL,
			agent_name        TEXT NOT NULL DEFAULT '',
			contact_id        TEXT NOT NULL DEFAULT '',
			client_message_id TEXT,
			email_json        TEXT,
			created_at        TEXT NOT NULL,

			FOREIGN KEY (org_id, session_id) REFERENCES conversations(org_id, session_id),
			UNIQUE (org_id, session_id, seq),
			CHECK (role IN ('user', 'assistant'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client_id
			ON messages(org_id, session_id, client_message_id) WHERE client_message_id IS NOT NULL;

		CREATE TABLE IF NOT EXISTS knowledge_entries (
			id           TEXT PRIMARY KEY,
			org_id       TEXT NOT NULL,
			title        TEXT NOT NULL,
			slug         TEXT NOT NULL DEFAULT '',
			content      TEXT NOT NULL,
			match_mode   TEXT NOT NULL DEFAULT 'contains',
			phrases_json TEXT NOT NULL DEFAULT '[]',
			priority     INTEGER NOT NULL DEFAULT 0,
			active       INTEGER NOT NULL DEFAULT 1,
			tags_json    TEXT NOT NULL DEFAULT '[]',
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,

			CHECK (match_mode IN ('contains', 'exact', 'regex'))
		);

		CREATE INDEX IF NOT EXISTS idx_knowledge_org ON knowledge_entries(org_id, active);

		CREATE TABLE IF NOT EXISTS conversation_events (
			id         TEXT PRIMARY KEY,
			org_id     TEXT NOT NULL,
			session_id TEXT NOT NULL,
			type       TEXT NOT NULL,
			actor_id   TEXT NOT NULL DEFAULT '',
			actor_name TEXT NOT NULL DEFAULT '',
			payload    TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,

			CHECK (type IN (
				'status_changed',
				'mode_changed',
				'assignment_changed',
				'assignment_cleared',
				'note_added'
			))
		);

		CREATE INDEX IF NOT EXISTS idx_conversation_events_session
			ON conversation_events(org_id, session_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS conversation_notes (
			id         TEXT PRIMARY KEY,
			org_id     TEXT NOT NULL,
			session_id TEXT NOT NULL,
			note       TEXT NOT NULL,
			actor_id   TEXT NOT NULL DEFAULT '',
			actor_name TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversation_notes_session
			ON conversation_notes(org_id, session_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "knowledge_entries",
			column: "tags_json",
			apply:  `ALTER TABLE knowledge_entries ADD COLUMN tags_json TEXT NOT NULL DEFAULT '[]'`,
		},
		{
			table:  "messages",
			column: "email_json",
			apply:  `ALTER TABLE messages ADD COLUMN email_json TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Ping checks that the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isBusy checks if the error is SQLite lock contention
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked")
}

// writeErr classifies a failed write
func writeErr(op string, err error) error {
	switch {
	case isBusy(err):
		return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
	case isConstraintViolation(err):
		return fmt.Errorf("%s: %w: %v", op, ErrDuplicate, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func decodeList(s string) ([]string, error) {
	var list []string
	if s == "" {
		return list, nil
	}
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// -----------------------------------------------------------------------------
// Contacts
// -----------------------------------------------------------------------------

const contactColumns = `id, org_id, email, phone, full_name, company, tags_json, created_at, updated_at`

func scanContact(row rowScanner) (*Contact, error) {
	var c Contact
	var email sql.NullString
	var tags, createdAt, updatedAt string

	err := row.Scan(&c.ID, &c.OrgID, &email, &c.Phone, &c.FullName, &c.Company, &tags, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning contact: %w", err)
	}

	c.Email = email.String
	if c.Tags, err = decodeList(tags); err != nil {
		return nil, fmt.Errorf("decoding contact tags: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}

// GetContact retrieves a contact by ID within an organization.
func (s *SQLiteStore) GetContact(ctx context.Context, orgID, id string) (*Contact, error) {
	return scanContact(s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE org_id = ? AND id = ?`, orgID, id))
}

// GetContactByEmail retrieves a contact by its (already normalized) email.
func (s *SQLiteStore) GetContactByEmail(ctx context.Context, orgID, email string) (*Contact, error) {
	return scanContact(s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE org_id = ? AND email = ?`, orgID, email))
}

// CreateContact inserts a new contact. Returns ErrDuplicate when another
// contact in the organization already has the same email.
func (s *SQLiteStore) CreateContact(ctx context.Context, c *Contact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := s.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (`+contactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.OrgID, nullString(c.Email), c.Phone, c.FullName, c.Company,
		encodeList(c.Tags), formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return writeErr("inserting contact", err)
	}

	s.logger.Debug("created contact", "org_id", c.OrgID, "id", c.ID)
	return nil
}

// UpdateContact overwrites a contact's identity fields.
func (s *SQLiteStore) UpdateContact(ctx context.Context, c *Contact) error {
	c.UpdatedAt = s.now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET email = ?, phone = ?, full_name = ?, company = ?, tags_json = ?, updated_at = ?
		WHERE org_id = ? AND id = ?
	`,
		nullString(c.Email), c.Phone, c.FullName, c.Company, encodeList(c.Tags),
		formatTime(c.UpdatedAt), c.OrgID, c.ID,
	)
	if err != nil {
		return writeErr("updating contact", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// Conversations and messages
// -----------------------------------------------------------------------------

const conversationColumns = `org_id, session_id, origin, contact_id, contact_name, contact_email,
	subject, status, mode, assigned_agent_id, assigned_agent_name, first_at, last_at,
	last_role, last_message, total_messages, created_at, updated_at`

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var firstAt, lastAt, createdAt, updatedAt string

	err := row.Scan(
		&c.OrgID, &c.SessionID, &c.Origin, &c.ContactID, &c.ContactName, &c.ContactEmail,
		&c.Subject, &c.Status, &c.Mode, &c.AssignedAgentID, &c.AssignedAgentName,
		&firstAt, &lastAt, &c.LastRole, &c.LastMessage, &c.TotalMessages, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&c.FirstAt, firstAt},
		{&c.LastAt, lastAt},
		{&c.CreatedAt, createdAt},
		{&c.UpdatedAt, updatedAt},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, fmt.Errorf("parsing conversation timestamp: %w", err)
		}
	}
	return &c, nil
}

func getConversation(ctx context.Context, q queryer, orgID, sessionID string) (*Conversation, error) {
	return scanConversation(q.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE org_id = ? AND session_id = ?`,
		orgID, sessionID))
}

func insertConversation(ctx context.Context, q queryer, c *Conversation) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.OrgID, c.SessionID, c.Origin, c.ContactID, c.ContactName, c.ContactEmail,
		c.Subject, c.Status, c.Mode, c.AssignedAgentID, c.AssignedAgentName,
		formatTime(c.FirstAt), formatTime(c.LastAt), c.LastRole, c.LastMessage, c.TotalMessages,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	return err
}

func updateConversation(ctx context.Context, q queryer, c *Conversation) error {
	_, err := q.ExecContext(ctx, `
		UPDATE conversations
		SET contact_id = ?, contact_name = ?, contact_email = ?, subject = ?, status = ?, mode = ?,
			assigned_agent_id = ?, assigned_agent_name = ?, last_at = ?, last_role = ?,
			last_message = ?, total_messages = ?, updated_at = ?
		WHERE org_id = ? AND session_id = ?
	`,
		c.ContactID, c.ContactName, c.ContactEmail, c.Subject, c.Status, c.Mode,
		c.AssignedAgentID, c.AssignedAgentName, formatTime(c.LastAt), c.LastRole,
		c.LastMessage, c.TotalMessages, formatTime(c.UpdatedAt),
		c.OrgID, c.SessionID,
	)
	return err
}

const messageColumns = `id, org_id, session_id, seq, role, content, source, agent_name,
	contact_id, client_message_id, email_json, created_at`

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var clientID, emailJSON sql.NullString
	var createdAt string

	err := row.Scan(
		&m.ID, &m.OrgID, &m.SessionID, &m.Seq, &m.Role, &m.Content, &m.Source, &m.AgentName,
		&m.ContactID, &clientID, &emailJSON, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	m.ClientMessageID = clientID.String
	if emailJSON.Valid && emailJSON.String != "" {
		var payload EmailPayload
		if err := json.Unmarshal([]byte(emailJSON.String), &payload); err != nil {
			return nil, fmt.Errorf("decoding email payload: %w", err)
		}
		m.Email = &payload
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}

func insertMessage(ctx context.Context, q queryer, m *Message) error {
	var emailJSON any
	if m.Email != nil {
		data, err := json.Marshal(m.Email)
		if err != nil {
			return fmt.Errorf("encoding email payload: %w", err)
		}
		emailJSON = string(data)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.OrgID, m.SessionID, m.Seq, m.Role, m.Content, m.Source, m.AgentName,
		m.ContactID, nullString(m.ClientMessageID), emailJSON, formatTime(m.CreatedAt),
	)
	return err
}

// AppendMessage stores a message, creating the conversation on first use and
// updating its summary in the same transaction. Timestamp and sequence are
// assigned here.
func (s *SQLiteStore) AppendMessage(ctx context.Context, p *AppendParams) (*AppendResult, error) {
	if err := validateAppend(p); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, writeErr("beginning append", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if p.ClientMessageID != "" {
		existing, err := scanMessage(tx.QueryRowContext(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE org_id = ? AND session_id = ? AND client_message_id = ?`,
			p.OrgID, p.SessionID, p.ClientMessageID))
		switch {
		case err == nil:
			conv, err := getConversation(ctx, tx, p.OrgID, p.SessionID)
			if err != nil {
				return nil, err
			}
			return &AppendResult{Message: existing, Conversation: conv, Duplicate: true}, nil
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}

	now := s.now().UTC()
	created := false
	conv, err := getConversation(ctx, tx, p.OrgID, p.SessionID)
	switch {
	case errors.Is(err, ErrNotFound):
		conv = newConversation(p, now)
		created = true
	case err != nil:
		return nil, err
	default:
		now = nextTimestamp(conv, now)
	}

	msg := newMessage(p, int64(conv.TotalMessages)+1, now)
	applyAppend(conv, p, msg)

	if created {
		err = insertConversation(ctx, tx, conv)
	} else {
		err = updateConversation(ctx, tx, conv)
	}
	if err != nil {
		return nil, writeErr("saving conversation", err)
	}
	if err := insertMessage(ctx, tx, msg); err != nil {
		return nil, writeErr("inserting message", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, writeErr("committing append", err)
	}

	s.logger.Debug("appended message",
		"org_id", p.OrgID,
		"session_id", p.SessionID,
		"seq", msg.Seq,
		"role", msg.Role)
	return &AppendResult{Message: msg, Conversation: conv, Created: created}, nil
}

// GetConversation retrieves a conversation by session ID.
// Returns ErrNotFound if the session doesn't exist in the organization.
func (s *SQLiteStore) GetConversation(ctx context.Context, orgID, sessionID string) (*Conversation, error) {
	return getConversation(ctx, s.db, orgID, sessionID)
}

// ListConversations returns the organization's conversations, most recently
// active first. If limit is 0 or negative, a default limit of 200 is used.
func (s *SQLiteStore) ListConversations(ctx context.Context, orgID string, limit int) ([]*Conversation, error) {
	limit = clampLimit(limit, defaultListLimit, maxListLimit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE org_id = ?
		ORDER BY last_at DESC, session_id
		LIMIT ?
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

// ListMessages returns every message of a session in append order.
// Returns ErrNotFound for an unknown session.
func (s *SQLiteStore) ListMessages(ctx context.Context, orgID, sessionID string) ([]*Message, error) {
	if _, err := s.GetConversation(ctx, orgID, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE org_id = ? AND session_id = ?
		ORDER BY created_at ASC, seq ASC
	`, orgID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// mutate loads a conversation inside a transaction, applies fn and, when fn
// reports a change, saves the conversation together with its audit event.
func (s *SQLiteStore) mutate(ctx context.Context, orgID, sessionID string, actor Actor, fn func(*Conversation) *change) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, writeErr("beginning update", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	conv, err := getConversation(ctx, tx, orgID, sessionID)
	if err != nil {
		return false, err
	}

	c := fn(conv)
	if c == nil {
		return false, nil
	}

	now := s.now().UTC()
	conv.UpdatedAt = now
	if err := updateConversation(ctx, tx, conv); err != nil {
		return false, writeErr("updating conversation", err)
	}
	if err := insertEvent(ctx, tx, c.event(conv, actor, now)); err != nil {
		return false, writeErr("inserting conversation event", err)
	}
	if err := tx.Commit(); err != nil {
		return false, writeErr("committing update", err)
	}

	s.logger.Debug("conversation updated",
		"org_id", orgID,
		"session_id", sessionID,
		"event", c.eventType)
	return true, nil
}

// SetStatus moves a conversation to status. Any transition is allowed.
func (s *SQLiteStore) SetStatus(ctx context.Context, orgID, sessionID string, status Status, actor Actor) (bool, error) {
	if !status.Valid() {
		return false, Invalid("status", "must be open, snoozed or closed")
	}
	return s.mutate(ctx, orgID, sessionID, actor, func(c *Conversation) *change {
		return statusChange(c, status)
	})
}

// SetMode switches who may reply on a conversation.
func (s *SQLiteStore) SetMode(ctx context.Context, orgID, sessionID string, mode Mode, actor Actor) (bool, error) {
	if !mode.Valid() {
		return false, Invalid("mode", "must be agent or manual")
	}
	return s.mutate(ctx, orgID, sessionID, actor, func(c *Conversation) *change {
		return modeChange(c, mode)
	})
}

// SetAssignee assigns a human agent; an empty agentID clears the assignment.
func (s *SQLiteStore) SetAssignee(ctx context.Context, orgID, sessionID, agentID, agentName string, actor Actor) (bool, error) {
	return s.mutate(ctx, orgID, sessionID, actor, func(c *Conversation) *change {
		return assigneeChange(c, agentID, agentName)
	})
}

// -----------------------------------------------------------------------------
// Events and notes
// -----------------------------------------------------------------------------

func insertEvent(ctx context.Context, q queryer, e *ConversationEvent) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO conversation_events (id, org_id, session_id, type, actor_id, actor_name, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.OrgID, e.SessionID, e.Type, e.ActorID, e.ActorName, e.Payload, formatTime(e.CreatedAt))
	return err
}

// AddNote attaches an internal note to a conversation and records a
// note_added event.
func (s *SQLiteStore) AddNote(ctx context.Context, note *Note) error {
	if strings.TrimSpace(note.Note) == "" {
		return Invalid("note", "must not be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return writeErr("beginning note", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := getConversation(ctx, tx, note.OrgID, note.SessionID); err != nil {
		return err
	}

	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	note.CreatedAt = s.now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_notes (id, org_id, session_id, note, actor_id, actor_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, note.ID, note.OrgID, note.SessionID, note.Note, note.ActorID, note.ActorName, formatTime(note.CreatedAt))
	if err != nil {
		return writeErr("inserting note", err)
	}
	if err := insertEvent(ctx, tx, noteEvent(note)); err != nil {
		return writeErr("inserting note event", err)
	}
	if err := tx.Commit(); err != nil {
		return writeErr("committing note", err)
	}
	return nil
}

// ListNotes returns a conversation's notes, oldest first.
func (s *SQLiteStore) ListNotes(ctx context.Context, orgID, sessionID string) ([]*Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, session_id, note, actor_id, actor_name, created_at
		FROM conversation_notes
		WHERE org_id = ? AND session_id = ?
		ORDER BY created_at ASC
	`, orgID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		var n Note
		var createdAt string
		if err := rows.Scan(&n.ID, &n.OrgID, &n.SessionID, &n.Note, &n.ActorID, &n.ActorName, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		notes = append(notes, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notes: %w", err)
	}
	return notes, nil
}

// ListEvents returns a conversation's audit trail, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, orgID, sessionID string, limit int) ([]*ConversationEvent, error) {
	limit = clampLimit(limit, defaultEventLimit, maxListLimit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, session_id, type, actor_id, actor_name, payload, created_at
		FROM conversation_events
		WHERE org_id = ? AND session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, orgID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*ConversationEvent
	for rows.Next() {
		var e ConversationEvent
		var createdAt string
		if err := rows.Scan(&e.ID, &e.OrgID, &e.SessionID, &e.Type, &e.ActorID, &e.ActorName, &e.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// -----------------------------------------------------------------------------
// Knowledge entries
// -----------------------------------------------------------------------------

const knowledgeColumns = `id, org_id, title, slug, content, match_mode, phrases_json, priority,
	active, tags_json, created_at, updated_at`

func scanKnowledge(row rowScanner) (*KnowledgeEntry, error) {
	var e KnowledgeEntry
	var phrases, tags, createdAt, updatedAt string
	var active int

	err := row.Scan(&e.ID, &e.OrgID, &e.Title, &e.Slug, &e.Content, &e.MatchMode, &phrases,
		&e.Priority, &active, &tags, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning knowledge entry: %w", err)
	}

	e.Active = active != 0
	if e.Phrases, err = decodeList(phrases); err != nil {
		return nil, fmt.Errorf("decoding phrases: %w", err)
	}
	if e.Tags, err = decodeList(tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &e, nil
}

// UpsertKnowledgeEntry creates the entry, or replaces it when e.ID already
// exists in the same organization. An ID owned by another organization is
// reported as ErrNotFound.
func (s *SQLiteStore) UpsertKnowledgeEntry(ctx context.Context, e *KnowledgeEntry) error {
	if err := normalizeKnowledge(e); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return writeErr("beginning knowledge upsert", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := s.now().UTC()
	e.UpdatedAt = now

	var existingOrg, existingCreated string
	err = tx.QueryRowContext(ctx, `SELECT org_id, created_at FROM knowledge_entries WHERE id = ?`, e.ID).
		Scan(&existingOrg, &existingCreated)
	switch {
	case e.ID == "" || errors.Is(err, sql.ErrNoRows):
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.CreatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO knowledge_entries (`+knowledgeColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			e.ID, e.OrgID, e.Title, e.Slug, e.Content, e.MatchMode, encodeList(e.Phrases),
			e.Priority, boolInt(e.Active), encodeList(e.Tags), formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
		)
		if err != nil {
			return writeErr("inserting knowledge entry", err)
		}
	case err != nil:
		return fmt.Errorf("querying knowledge entry: %w", err)
	case existingOrg != e.OrgID:
		return ErrNotFound
	default:
		if e.CreatedAt, err = parseTime(existingCreated); err != nil {
			return fmt.Errorf("parsing created_at: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE knowledge_entries
			SET title = ?, slug = ?, content = ?, match_mode = ?, phrases_json = ?, priority = ?,
				active = ?, tags_json = ?, updated_at = ?
			WHERE id = ? AND org_id = ?
		`,
			e.Title, e.Slug, e.Content, e.MatchMode, encodeList(e.Phrases), e.Priority,
			boolInt(e.Active), encodeList(e.Tags), formatTime(e.UpdatedAt), e.ID, e.OrgID,
		)
		if err != nil {
			return writeErr("updating knowledge entry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return writeErr("committing knowledge upsert", err)
	}

	s.logger.Debug("upserted knowledge entry", "org_id", e.OrgID, "id", e.ID)
	return nil
}

// DeleteKnowledgeEntry removes an entry from the organization.
func (s *SQLiteStore) DeleteKnowledgeEntry(ctx context.Context, orgID, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_entries WHERE org_id = ? AND id = ?`, orgID, id)
	if err != nil {
		return writeErr("deleting knowledge entry", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListKnowledgeEntries returns the organization's entries ordered by
// priority, then most recently updated.
func (s *SQLiteStore) ListKnowledgeEntries(ctx context.Context, orgID string, activeOnly bool) ([]*KnowledgeEntry, error) {
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_entries WHERE org_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY priority DESC, updated_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge entries: %w", err)
	}
	defer rows.Close()

	var entries []*KnowledgeEntry
	for rows.Next() {
		e, err := scanKnowledge(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating knowledge entries: %w", err)
	}
	return entries, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
