package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const selectPrivateMessage = `
	SELECT m.id, m.sender_id, m.receiver_id, m.message, m.read, m.client_ref, m.created_at,
		s.id, s.name, s.email, s.role,
		r.id, r.name, r.email, r.role
	FROM private_messages m
	LEFT JOIN users s ON s.id = m.sender_id
	LEFT JOIN users r ON r.id = m.receiver_id
`

func scanPrivateMessage(row rowScanner) (PrivateMessage, error) {
	var (
		msg       PrivateMessage
		clientRef sql.NullString
		sender    nullSummary
		receiver  nullSummary
	)
	dest := []any{&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Message, &msg.Read, &clientRef, &msg.CreatedAt}
	dest = append(dest, sender.targets()...)
	dest = append(dest, receiver.targets()...)
	if err := row.Scan(dest...); err != nil {
		return PrivateMessage{}, err
	}
	msg.ClientRef = clientRef.String
	var err error
	if msg.Sender, err = sender.value(); err != nil {
		return PrivateMessage{}, fmt.Errorf("scan sender: %w", err)
	}
	if msg.Receiver, err = receiver.value(); err != nil {
		return PrivateMessage{}, fmt.Errorf("scan receiver: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) queryPrivateMessages(ctx context.Context, op, query string, args ...any) ([]PrivateMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]PrivateMessage, 0)
	for rows.Next() {
		item, err := scanPrivateMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan private message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate private messages: %w", err)
	}
	return items, nil
}

// ListPrivateMessages returns userID's messages oldest first. When otherID is
// set only the thread between the two users is returned.
func (s *PostgresStore) ListPrivateMessages(ctx context.Context, userID, otherID string) ([]PrivateMessage, error) {
	if otherID == "" {
		return s.queryPrivateMessages(ctx, "list private messages", selectPrivateMessage+`
			WHERE m.sender_id=$1 OR m.receiver_id=$1
			ORDER BY m.created_at ASC
		`, userID)
	}
	return s.queryPrivateMessages(ctx, "list private thread", selectPrivateMessage+`
		WHERE (m.sender_id=$1 AND m.receiver_id=$2) OR (m.sender_id=$2 AND m.receiver_id=$1)
		ORDER BY m.created_at ASC
	`, userID, otherID)
}

func (s *PostgresStore) GetPrivateMessage(ctx context.Context, id string) (PrivateMessage, error) {
	return scanPrivateMessage(s.db.QueryRowContext(ctx, selectPrivateMessage+` WHERE m.id=$1`, id))
}

func (s *PostgresStore) CreatePrivateMessage(ctx context.Context, msg PrivateMessage) (PrivateMessage, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO private_messages (id, sender_id, receiver_id, message, client_ref)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`, msg.ID, msg.SenderID, msg.ReceiverID, strings.TrimSpace(msg.Message), msg.ClientRef)
	if err != nil {
		return PrivateMessage{}, fmt.Errorf("create private message: %w", err)
	}
	return s.GetPrivateMessage(ctx, msg.ID)
}

// MarkPrivateMessageRead is idempotent: a message already read stays read.
func (s *PostgresStore) MarkPrivateMessageRead(ctx context.Context, id string) (PrivateMessage, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE private_messages SET read=TRUE WHERE id=$1`, id)
	if err != nil {
		return PrivateMessage{}, fmt.Errorf("mark message read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return PrivateMessage{}, sql.ErrNoRows
	}
	return s.GetPrivateMessage(ctx, id)
}

func (s *PostgresStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM private_messages WHERE receiver_id=$1 AND NOT read
	`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

const selectCommunityMessage = `
	SELECT m.id, m.sender_id, m.message, m.client_ref, m.created_at,
		s.id, s.name, s.email, s.role
	FROM community_messages m
	LEFT JOIN users s ON s.id = m.sender_id
`

func scanCommunityMessage(row rowScanner) (CommunityMessage, error) {
	var (
		msg       CommunityMessage
		clientRef sql.NullString
		sender    nullSummary
	)
	dest := append([]any{&msg.ID, &msg.SenderID, &msg.Message, &clientRef, &msg.CreatedAt}, sender.targets()...)
	if err := row.Scan(dest...); err != nil {
		return CommunityMessage{}, err
	}
	msg.ClientRef = clientRef.String
	var err error
	if msg.Sender, err = sender.value(); err != nil {
		return CommunityMessage{}, fmt.Errorf("scan sender: %w", err)
	}
	return msg, nil
}

// ListCommunityMessages returns the newest limit messages in chronological
// order.
func (s *PostgresStore) ListCommunityMessages(ctx context.Context, limit int) ([]CommunityMessage, error) {
	rows, err := s.db.QueryContext(ctx, selectCommunityMessage+`
		ORDER BY m.created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list community messages: %w", err)
	}
	defer rows.Close()

	items := make([]CommunityMessage, 0)
	for rows.Next() {
		item, err := scanCommunityMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan community message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate community messages: %w", err)
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *PostgresStore) CreateCommunityMessage(ctx context.Context, msg CommunityMessage) (CommunityMessage, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO community_messages (id, sender_id, message, client_ref)
		VALUES ($1, $2, $3, NULLIF($4, ''))
	`, msg.ID, msg.SenderID, strings.TrimSpace(msg.Message), msg.ClientRef)
	if err != nil {
		return CommunityMessage{}, fmt.Errorf("create community message: %w", err)
	}
	return scanCommunityMessage(s.db.QueryRowContext(ctx, selectCommunityMessage+` WHERE m.id=$1`, msg.ID))
}
