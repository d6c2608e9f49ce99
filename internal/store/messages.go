package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaypoint/messaging-platform/internal/model"
)

const messageColumns = `id, sender_id, receiver_id, role, content, kind,
	attachment_ref, reply_to_id, is_read, read_at, is_flagged, is_pinned,
	is_starred, is_deleted_by_moderator, created_at`

// CreateMessage persists a message and assigns the authoritative id and
// timestamp. The input's ID and CreatedAt are ignored.
func (s *Store) CreateMessage(ctx context.Context, m *model.Message) (*model.Message, error) {
	m.ID = uuid.Must(uuid.NewV7()).String()
	m.CreatedAt = time.Now().UTC()
	if m.Kind == "" {
		m.Kind = model.KindText
	}
	if m.Role == "" {
		m.Role = model.RoleUser
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, role, content, kind,
			attachment_ref, reply_to_id, is_read, read_at, is_flagged, is_pinned,
			is_starred, is_deleted_by_moderator, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SenderID, m.ReceiverID, string(m.Role), m.Content, string(m.Kind),
		m.AttachmentRef, m.ReplyToID, m.IsRead, m.ReadAt, m.IsFlagged, m.IsPinned,
		m.IsStarred, m.IsDeletedByModerator, m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// GetMessage fetches a single message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select message: %w", err)
	}
	return m, nil
}

// History returns the assistant thread for a user: every message with a nil
// receiver, both the user's and the assistant's, ascending by creation time.
func (s *Store) History(ctx context.Context, userID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE sender_id = ? AND receiver_id IS NULL
		ORDER BY created_at ASC, rowid ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	if err := s.resolveReplyPreviews(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// HistoryP2P returns the conversation between two peers: the union of both
// directions, ascending by creation time with insertion order as the
// tie-break. Symmetric: HistoryP2P(a, b) equals HistoryP2P(b, a).
func (s *Store) HistoryP2P(ctx context.Context, userID, peerID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = ? AND receiver_id = ?)
		   OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, rowid ASC`,
		userID, peerID, peerID, userID)
	if err != nil {
		return nil, fmt.Errorf("select p2p history: %w", err)
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	if err := s.resolveReplyPreviews(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead flips every unread message from peerID to viewerID and returns
// how many rows changed together with the applied timestamp. Idempotent.
func (s *Store) MarkRead(ctx context.Context, viewerID, peerID string) (int, time.Time, error) {
	readAt := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1, read_at = ?
		WHERE sender_id = ? AND receiver_id = ? AND is_read = 0`,
		readAt, peerID, viewerID)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("mark read rows: %w", err)
	}
	return int(n), readAt, nil
}

// Summaries recomputes the conversation index for a viewer purely from
// stored messages: one entry per distinct peer with the latest preview and
// the unread counter, descending by last activity. Soft-deleted previews
// are suppressed but the entry (and its position) is preserved.
func (s *Store) Summaries(ctx context.Context, viewerID string) ([]model.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.sender_id, m.receiver_id, m.content, m.kind, m.is_read,
			m.is_deleted_by_moderator, m.created_at, u.name
		FROM messages m
		LEFT JOIN users u ON u.id = CASE WHEN m.sender_id = ? THEN m.receiver_id ELSE m.sender_id END
		WHERE (m.sender_id = ? AND m.receiver_id IS NOT NULL) OR m.receiver_id = ?
		ORDER BY m.created_at DESC, m.rowid DESC`,
		viewerID, viewerID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("select summaries: %w", err)
	}
	defer rows.Close()

	var order []string
	byPeer := map[string]*model.ConversationSummary{}

	for rows.Next() {
		var (
			senderID  string
			recvID    sql.NullString
			content   string
			kind      string
			isRead    bool
			deleted   bool
			createdAt time.Time
			peerName  sql.NullString
		)
		if err := rows.Scan(&senderID, &recvID, &content, &kind, &isRead,
			&deleted, &createdAt, &peerName); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}

		peerID := senderID
		if senderID == viewerID {
			peerID = recvID.String
		}

		entry, ok := byPeer[peerID]
		if !ok {
			preview := content
			if deleted {
				preview = ""
			}
			entry = &model.ConversationSummary{
				PeerID:   peerID,
				PeerName: peerName.String,
				LastMessage: &model.LastMessage{
					Content:   preview,
					Kind:      model.Kind(kind),
					CreatedAt: createdAt,
				},
			}
			byPeer[peerID] = entry
			order = append(order, peerID)
		}
		if senderID == peerID && !isRead {
			entry.UnreadCount++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}

	out := make([]model.ConversationSummary, 0, len(order))
	for _, peerID := range order {
		out = append(out, *byPeer[peerID])
	}
	return out, nil
}

// SetPinned toggles the pinned flag on a message.
func (s *Store) SetPinned(ctx context.Context, id string, value bool) (*model.Message, error) {
	return s.setFlag(ctx, id, "is_pinned", value)
}

// SetStarred toggles the starred flag on a message.
func (s *Store) SetStarred(ctx context.Context, id string, value bool) (*model.Message, error) {
	return s.setFlag(ctx, id, "is_starred", value)
}

func (s *Store) setFlag(ctx context.Context, id, column string, value bool) (*model.Message, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET `+column+` = ? WHERE id = ?`, value, id)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetMessage(ctx, id)
}

// SoftDeleteByModerator marks the given messages as moderator-deleted
// without removing rows. Returns the distinct user ids that participate in
// the affected messages so derived views can be invalidated.
func (s *Store) SoftDeleteByModerator(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sender_id, receiver_id FROM messages WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("select affected: %w", err)
	}
	seen := map[string]struct{}{}
	var participants []string
	for rows.Next() {
		var senderID string
		var recvID sql.NullString
		if err := rows.Scan(&senderID, &recvID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan affected: %w", err)
		}
		for _, id := range []string{senderID, recvID.String} {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				participants = append(participants, id)
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate affected: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_deleted_by_moderator = 1 WHERE id IN (`+placeholders+`)`,
		args...); err != nil {
		return nil, fmt.Errorf("soft delete: %w", err)
	}
	return participants, nil
}

// resolveReplyPreviews fills ReplyTo for any message carrying a ReplyToID.
// The reference is weak: a missing target simply leaves the preview nil.
func (s *Store) resolveReplyPreviews(ctx context.Context, msgs []model.Message) error {
	want := map[string][]int{}
	for i := range msgs {
		if msgs[i].ReplyToID != nil {
			want[*msgs[i].ReplyToID] = append(want[*msgs[i].ReplyToID], i)
		}
	}
	if len(want) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(want))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(want))
	for id := range want {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, kind, attachment_ref, is_deleted_by_moderator
		FROM messages WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("select reply previews: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.MessagePreview
		var role, kind string
		var ref sql.NullString
		var deleted bool
		if err := rows.Scan(&p.ID, &role, &p.Content, &kind, &ref, &deleted); err != nil {
			return fmt.Errorf("scan reply preview: %w", err)
		}
		p.Role = model.Role(role)
		p.Kind = model.Kind(kind)
		if ref.Valid {
			p.AttachmentRef = &ref.String
		}
		if deleted {
			p.Content = ""
			p.AttachmentRef = nil
		}
		for _, i := range want[p.ID] {
			preview := p
			msgs[i].ReplyTo = &preview
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		m         model.Message
		recvID    sql.NullString
		role      string
		kind      string
		ref       sql.NullString
		replyToID sql.NullString
		readAt    sql.NullTime
	)
	err := row.Scan(&m.ID, &m.SenderID, &recvID, &role, &m.Content, &kind,
		&ref, &replyToID, &m.IsRead, &readAt, &m.IsFlagged, &m.IsPinned,
		&m.IsStarred, &m.IsDeletedByModerator, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Role = model.Role(role)
	m.Kind = model.Kind(kind)
	if recvID.Valid {
		m.ReceiverID = &recvID.String
	}
	if ref.Valid {
		m.AttachmentRef = &ref.String
	}
	if replyToID.Valid {
		m.ReplyToID = &replyToID.String
	}
	if readAt.Valid {
		t := readAt.Time
		m.ReadAt = &t
	}
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]model.Message, error) {
	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}
