// Package relay decides between live socket delivery and the offline queue.
// The queue drain is a transactional fetch-and-delete, so a row is handed to
// at most one caller.
package relay

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Bogomil-Stoyanov/TenebraChat/internal/models"
	"github.com/Bogomil-Stoyanov/TenebraChat/internal/registry"
	"github.com/Bogomil-Stoyanov/TenebraChat/pkg/apperrors"
)

var ErrRecipientUnknown = errors.New("recipient has no registered device")

const (
	// QueueTTL is how long an undelivered message survives.
	QueueTTL = 30 * 24 * time.Hour

	maxCiphertextLen = 65536

	// EventNewMessage is the socket event pushed on live delivery.
	EventNewMessage = "new_message"
)

var ciphertextPattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

var validMessageTypes = map[string]bool{
	models.MessageTypeSignal:       true,
	models.MessageTypePreKeySignal: true,
	models.MessageTypeKeyExchange:  true,
}

type Service struct {
	db       *sql.DB
	registry *registry.Registry
	log      *zap.Logger
}

func NewService(db *sql.DB, reg *registry.Registry, log *zap.Logger) *Service {
	return &Service{db: db, registry: reg, log: log}
}

// SendResult reports whether the ciphertext was pushed live; when it was
// queued instead, MessageID identifies the stored row.
type SendResult struct {
	Delivered bool       `json:"delivered"`
	MessageID *uuid.UUID `json:"messageId,omitempty"`
}

// Send validates the envelope, then either pushes to the recipient's live
// socket or parks the ciphertext in the queue. A registry entry whose socket
// has gone stale falls through to queueing, so the message is never dropped.
func (s *Service) Send(ctx context.Context, senderID, recipientID uuid.UUID, ciphertext, messageType string) (*SendResult, error) {
	if messageType == "" {
		messageType = models.MessageTypeSignal
	}
	if senderID == recipientID {
		return nil, apperrors.BadRequest("cannot send a message to yourself")
	}
	if ciphertext == "" || len(ciphertext) > maxCiphertextLen || !ciphertextPattern.MatchString(ciphertext) {
		return nil, apperrors.BadRequest("ciphertext must be base64 of at most 65536 characters")
	}
	if !validMessageTypes[messageType] {
		return nil, apperrors.BadRequest("unknown message type")
	}

	var hasDevice bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM devices WHERE user_id = $1)`, recipientID,
	).Scan(&hasDevice)
	if err != nil {
		return nil, fmt.Errorf("failed to check recipient device: %w", err)
	}
	if !hasDevice {
		return nil, ErrRecipientUnknown
	}

	if sess, ok := s.registry.AnySessionOf(recipientID); ok && sess.Conn.Connected() {
		event := models.NewMessageEvent{
			SenderID:   senderID.String(),
			Ciphertext: ciphertext,
			Type:       messageType,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		}
		if err := sess.Conn.Emit(EventNewMessage, event); err == nil {
			return &SendResult{Delivered: true}, nil
		}
		s.log.Warn("live delivery failed, falling back to queue",
			zap.String("recipient_id", recipientID.String()))
	}

	payload, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, apperrors.BadRequest("ciphertext is not valid base64")
	}

	id := uuid.New()
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO queued_messages (id, recipient_id, sender_id, encrypted_payload, message_type, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, recipientID, senderID, payload, messageType, now, now.Add(QueueTTL)); err != nil {
		return nil, fmt.Errorf("failed to queue message: %w", err)
	}

	return &SendResult{Delivered: false, MessageID: &id}, nil
}

// FetchOffline drains up to limit of the recipient's oldest queued messages.
// Rows are locked, deleted and returned in one transaction: two interleaved
// drains see disjoint sets, and a crash before commit leaves the rows queued.
func (s *Service) FetchOffline(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.OfflineMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		DELETE FROM queued_messages
		WHERE id IN (
			SELECT id FROM queued_messages
			WHERE recipient_id = $1
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, sender_id, encrypted_payload, message_type, file_reference, created_at
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to drain queue: %w", err)
	}
	defer rows.Close()

	messages := []models.OfflineMessage{}
	for rows.Next() {
		var (
			msg     models.OfflineMessage
			payload []byte
		)
		if err := rows.Scan(&msg.ID, &msg.SenderID, &payload, &msg.MessageType, &msg.FileReference, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queued message: %w", err)
		}
		msg.Ciphertext = base64.StdEncoding.EncodeToString(payload)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queued messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit queue drain: %w", err)
	}

	// DELETE ... RETURNING does not guarantee output order; restore the
	// created_at ordering the subselect established.
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// AckDelete removes the listed rows, but only those owned by the caller, so a
// client can never erase another recipient's queue.
func (s *Service) AckDelete(ctx context.Context, recipientID uuid.UUID, messageIDs []uuid.UUID) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, apperrors.BadRequest("messageIds must not be empty")
	}

	ids := make([]string, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = id.String()
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM queued_messages WHERE recipient_id = $1 AND id = ANY($2)
	`, recipientID, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to ack-delete messages: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return deleted, nil
}
