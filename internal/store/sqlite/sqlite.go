package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/citychat/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ==== UserStore implementation ====

// UpsertUser returns the user with username, creating it when missing. A
// non-empty display name replaces the stored one.
func (s *SQLiteStore) UpsertUser(ctx context.Context, username, displayName string) (*store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if displayName == "" {
		displayName = username
	}

	query := `
		INSERT INTO users (id, username, display_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET display_name = excluded.display_name
	`
	if _, err := s.db.ExecContext(ctx, query, uuid.NewString(), username, displayName, toNanos(s.now())); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.getUser(ctx, "username = ?", username)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*store.User, error) {
	query := `SELECT id, username, display_name, level, created_at FROM users WHERE ` + where
	user, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, notFound("user", err)
	}
	return user, nil
}

func scanUser(row rowScanner) (*store.User, error) {
	var (
		user    store.User
		created int64
	)
	if err := row.Scan(&user.ID, &user.Username, &user.DisplayName, &user.Level, &created); err != nil {
		return nil, err
	}
	user.CreatedAt = fromNanos(created)
	return &user, nil
}

// SearchUsers returns users whose username or display name contains query.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query string, limit int) ([]*store.User, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, display_name, level, created_at
		FROM users
		WHERE username LIKE ? OR display_name LIKE ?
		ORDER BY username ASC
		LIMIT ?
	`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ==== ConversationStore implementation ====

func directKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// GetOrCreateDirect returns the conversation between the two users and
// whether it was created by this call.
func (s *SQLiteStore) GetOrCreateDirect(ctx context.Context, userA, userB string) (*store.Conversation, bool, error) {
	if userA == userB {
		return nil, false, errors.New("conversation needs two distinct users")
	}
	key := directKey(userA, userB)
	if conv, err := s.getConversation(ctx, "direct_key = ?", key); err == nil {
		return conv, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	now := toNanos(s.now())
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, direct_key, created_at, updated_at) VALUES (?, ?, ?, ?)
	`, id, key, now, now); err != nil {
		return nil, false, fmt.Errorf("insert conversation: %w", err)
	}
	for _, uid := range []string{userA, userB} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO participants (conversation_id, user_id) VALUES (?, ?)
		`, id, uid); err != nil {
			return nil, false, fmt.Errorf("insert participant: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit transaction: %w", err)
	}

	conv, err := s.GetConversation(ctx, id)
	return conv, true, err
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	return s.getConversation(ctx, "id = ?", id)
}

func (s *SQLiteStore) getConversation(ctx context.Context, where string, arg any) (*store.Conversation, error) {
	var (
		conv             store.Conversation
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, direct_key, created_at, updated_at FROM conversations WHERE `+where, arg,
	).Scan(&conv.ID, &conv.DirectKey, &created, &updated)
	if err != nil {
		return nil, notFound("conversation", err)
	}
	conv.CreatedAt = fromNanos(created)
	conv.UpdatedAt = fromNanos(updated)
	return &conv, nil
}

// ListConversations returns the user's conversations, most recent first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*store.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.direct_key, c.created_at, c.updated_at, p.last_read_at
		FROM conversations c
		INNER JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	type listed struct {
		summary  *store.ConversationSummary
		lastRead int64
	}
	var convs []listed
	for rows.Next() {
		var (
			sum              store.ConversationSummary
			created, updated int64
			lastRead         int64
		)
		if err := rows.Scan(&sum.ID, &sum.DirectKey, &created, &updated, &lastRead); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		sum.CreatedAt = fromNanos(created)
		sum.UpdatedAt = fromNanos(updated)
		convs = append(convs, listed{summary: &sum, lastRead: lastRead})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*store.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		if err := s.fillSummary(ctx, c.summary, userID, c.lastRead); err != nil {
			return nil, err
		}
		out = append(out, c.summary)
	}
	return out, nil
}

func (s *SQLiteStore) fillSummary(ctx context.Context, sum *store.ConversationSummary, userID string, lastRead int64) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.display_name, u.level, u.created_at
		FROM users u
		INNER JOIN participants p ON p.user_id = u.id
		WHERE p.conversation_id = ?
		ORDER BY u.username ASC
	`, sum.ID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("scan participant: %w", err)
		}
		sum.Participants = append(sum.Participants, *u)
	}
	rows.Close()

	last, err := scanMessage(s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC LIMIT 1
	`, sum.ID))
	switch {
	case err == nil:
		sum.LastMessage = last
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("query last message: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND sender_id != ? AND created_at > ?
	`, sum.ID, userID, lastRead).Scan(&sum.UnreadCount)
	if err != nil {
		return fmt.Errorf("count unread: %w", err)
	}
	return nil
}

// ListParticipants returns the user IDs in a conversation.
func (s *SQLiteStore) ListParticipants(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM participants WHERE conversation_id = ? ORDER BY user_id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsParticipant checks whether userID belongs to the conversation.
func (s *SQLiteStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM participants WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return n > 0, nil
}

// MarkRead records that userID has read up to messageID. The read marker
// never moves backwards.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, userID, messageID string, at time.Time) error {
	mark := toNanos(at)
	if messageID != "" {
		msg, err := s.GetMessage(ctx, messageID)
		if err != nil {
			return err
		}
		if msg.ConversationID != conversationID {
			return fmt.Errorf("message %s: %w", messageID, store.ErrNotFound)
		}
		mark = toNanos(msg.CreatedAt)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE participants SET last_read_at = MAX(last_read_at, ?)
		WHERE conversation_id = ? AND user_id = ?
	`, mark, conversationID, userID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("participant: %w", store.ErrNotFound)
	}
	return nil
}

// ==== MessageStore implementation ====

const messageColumns = `id, temp_id, room_id, conversation_id, sender_id, content, reply_to, edited, created_at, updated_at`

func scanMessage(row rowScanner) (*store.Message, error) {
	var (
		msg              store.Message
		created, updated int64
	)
	err := row.Scan(&msg.ID, &msg.TempID, &msg.RoomID, &msg.ConversationID, &msg.SenderID,
		&msg.Content, &msg.ReplyTo, &msg.Edited, &created, &updated)
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = fromNanos(created)
	msg.UpdatedAt = fromNanos(updated)
	return &msg, nil
}

// SaveMessage persists a message, filling ID and timestamps when unset.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if (msg.RoomID == "") == (msg.ConversationID == "") {
		return errors.New("message needs exactly one of room or conversation")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.TempID, msg.RoomID, msg.ConversationID, msg.SenderID, msg.Content,
		msg.ReplyTo, msg.Edited, toNanos(msg.CreatedAt), toNanos(msg.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if msg.ConversationID != "" {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE conversations SET updated_at = MAX(updated_at, ?) WHERE id = ?
		`, toNanos(msg.CreatedAt), msg.ConversationID); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("message", err)
	}
	return msg, nil
}

// UpdateMessage replaces the content and marks the message edited.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, id, content string, at time.Time) (*store.Message, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, edited = 1, updated_at = ? WHERE id = ?
	`, content, toNanos(at), id)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("message: %w", store.ErrNotFound)
	}
	return s.GetMessage(ctx, id)
}

// DeleteMessage removes a message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message: %w", store.ErrNotFound)
	}
	return nil
}

// ListRoomMessages returns up to limit room messages oldest first.
func (s *SQLiteStore) ListRoomMessages(ctx context.Context, roomID string, limit int, beforeID string) ([]*store.Message, error) {
	return s.listMessages(ctx, "room_id", roomID, limit, beforeID)
}

// ListConversationMessages returns up to limit conversation messages oldest first.
func (s *SQLiteStore) ListConversationMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]*store.Message, error) {
	return s.listMessages(ctx, "conversation_id", conversationID, limit, beforeID)
}

func (s *SQLiteStore) listMessages(ctx context.Context, column, scopeID string, limit int, beforeID string) ([]*store.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + column + ` = ?`
	args := []any{scopeID}
	if beforeID != "" {
		query += ` AND created_at < (SELECT created_at FROM messages WHERE id = ?)`
		args = append(args, beforeID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ==== DMRequestStore implementation ====

const dmRequestColumns = `id, requester_id, recipient_id, message, status, conversation_id, created_at, expires_at`

func scanDMRequest(row rowScanner) (*store.DMRequest, error) {
	var (
		req              store.DMRequest
		created, expires int64
	)
	err := row.Scan(&req.ID, &req.RequesterID, &req.RecipientID, &req.Message, &req.Status,
		&req.ConversationID, &created, &expires)
	if err != nil {
		return nil, err
	}
	req.CreatedAt = fromNanos(created)
	req.ExpiresAt = fromNanos(expires)
	return &req, nil
}

// CreateDMRequest persists a new pending request.
func (s *SQLiteStore) CreateDMRequest(ctx context.Context, req *store.DMRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = store.DMRequestPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dm_requests (`+dmRequestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, req.ID, req.RequesterID, req.RecipientID, req.Message, req.Status, req.ConversationID,
		toNanos(req.CreatedAt), toNanos(req.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert dm request: %w", err)
	}
	return nil
}

// GetDMRequest retrieves a request by ID.
func (s *SQLiteStore) GetDMRequest(ctx context.Context, id string) (*store.DMRequest, error) {
	req, err := scanDMRequest(s.db.QueryRowContext(ctx, `SELECT `+dmRequestColumns+` FROM dm_requests WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("dm request", err)
	}
	return req, nil
}

// FindPendingDMRequest returns the pending request between two users in either direction.
func (s *SQLiteStore) FindPendingDMRequest(ctx context.Context, userA, userB string) (*store.DMRequest, error) {
	req, err := scanDMRequest(s.db.QueryRowContext(ctx, `
		SELECT `+dmRequestColumns+` FROM dm_requests
		WHERE status = 'pending'
		  AND ((requester_id = ? AND recipient_id = ?) OR (requester_id = ? AND recipient_id = ?))
		ORDER BY created_at ASC LIMIT 1
	`, userA, userB, userB, userA))
	if err != nil {
		return nil, notFound("dm request", err)
	}
	return req, nil
}

// ListPendingDMRequests returns pending requests addressed to recipientID, oldest first.
func (s *SQLiteStore) ListPendingDMRequests(ctx context.Context, recipientID string) ([]*store.DMRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+dmRequestColumns+` FROM dm_requests
		WHERE recipient_id = ? AND status = 'pending'
		ORDER BY created_at ASC
	`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list dm requests: %w", err)
	}
	defer rows.Close()
	return collectDMRequests(rows)
}

func collectDMRequests(rows *sql.Rows) ([]*store.DMRequest, error) {
	var out []*store.DMRequest
	for rows.Next() {
		req, err := scanDMRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dm request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// UpdateDMRequest sets the status of a pending request.
func (s *SQLiteStore) UpdateDMRequest(ctx context.Context, id string, status store.DMRequestStatus, conversationID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dm_requests SET status = ?, conversation_id = ? WHERE id = ? AND status = 'pending'
	`, status, conversationID, id)
	if err != nil {
		return fmt.Errorf("update dm request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pending dm request: %w", store.ErrNotFound)
	}
	return nil
}

// ExpireDMRequests marks pending requests past their expiry and returns them.
func (s *SQLiteStore) ExpireDMRequests(ctx context.Context, now time.Time) ([]*store.DMRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+dmRequestColumns+` FROM dm_requests
		WHERE status = 'pending' AND expires_at > 0 AND expires_at <= ?
	`, toNanos(now))
	if err != nil {
		return nil, fmt.Errorf("list expired dm requests: %w", err)
	}
	expired, err := collectDMRequests(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	for _, req := range expired {
		if _, err := tx.ExecContext(ctx, `UPDATE dm_requests SET status = 'expired' WHERE id = ?`, req.ID); err != nil {
			return nil, fmt.Errorf("expire dm request: %w", err)
		}
		req.Status = store.DMRequestExpired
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return expired, nil
}

// ==== ModerationStore implementation ====

// SaveModeration records a moderation action.
func (s *SQLiteStore) SaveModeration(ctx context.Context, m *store.Moderation) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO moderation_actions (id, room_id, user_id, moderator_id, action, reason, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.RoomID, m.UserID, m.ModeratorID, m.Action, m.Reason, toNanos(m.CreatedAt), toNanos(m.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert moderation: %w", err)
	}
	return nil
}

// ActiveModerations returns actions against userID in roomID still in force at now.
func (s *SQLiteStore) ActiveModerations(ctx context.Context, roomID, userID string, now time.Time) ([]*store.Moderation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, user_id, moderator_id, action, reason, created_at, expires_at
		FROM moderation_actions
		WHERE room_id = ? AND user_id = ? AND (expires_at = 0 OR expires_at > ?)
		ORDER BY created_at ASC
	`, roomID, userID, toNanos(now))
	if err != nil {
		return nil, fmt.Errorf("list moderation: %w", err)
	}
	defer rows.Close()

	var out []*store.Moderation
	for rows.Next() {
		var (
			m                store.Moderation
			created, expires int64
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.ModeratorID, &m.Action, &m.Reason, &created, &expires); err != nil {
			return nil, fmt.Errorf("scan moderation: %w", err)
		}
		m.CreatedAt = fromNanos(created)
		m.ExpiresAt = fromNanos(expires)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// SaveReport records a message report.
func (s *SQLiteStore) SaveReport(ctx context.Context, r *store.Report) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, message_id, reporter_id, reason, created_at) VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.MessageID, r.ReporterID, r.Reason, toNanos(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

var _ store.Store = (*SQLiteStore)(nil)
