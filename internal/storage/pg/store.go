package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a chat, message or research request does not
// exist. Services map it to a 404 at the HTTP boundary.
var ErrNotFound = errors.New("not found")

// Store provides access to chats, messages and research requests.
type Store struct {
	db *sql.DB
}

// NewStore creates a new store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateChat creates a new chat for a user.
func (s *Store) CreateChat(ctx context.Context, userID, title string) (*Chat, error) {
	if title == "" {
		title = "New Chat"
	}

	chat := &Chat{}
	query := `
		INSERT INTO chats (id, user_id, title)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, title, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, uuid.New().String(), userID, title).
		Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	return chat, nil
}

// GetChat retrieves a chat by ID.
func (s *Store) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	chat := &Chat{}
	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM chats
		WHERE id = $1
	`
	err := s.db.QueryRowContext(ctx, query, chatID).
		Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}

	return chat, nil
}

// ListChatsByUser returns a user's chats, most recently updated first.
func (s *Store) ListChatsByUser(ctx context.Context, userID string) ([]Chat, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM chats
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, chat)
	}

	return chats, rows.Err()
}

// UpdateChatTitle renames a chat.
func (s *Store) UpdateChatTitle(ctx context.Context, chatID, title string) (*Chat, error) {
	chat := &Chat{}
	query := `
		UPDATE chats
		SET title = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, user_id, title, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, chatID, title).
		Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update chat: %w", err)
	}

	return chat, nil
}

// DeleteChat removes a chat. Messages, research requests and results cascade.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMessage persists a message. When the role is "user" a PENDING
// research request is created in the same transaction, so a message and its
// request can never exist without each other.
func (s *Store) CreateMessage(ctx context.Context, chatID string, userID *string, role, content string) (*Message, *ResearchRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Chat existence check inside the transaction keeps the FK error out of
	// the client-facing path.
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM chats WHERE id = $1)`, chatID).Scan(&exists); err != nil {
		return nil, nil, fmt.Errorf("failed to check chat: %w", err)
	}
	if !exists {
		return nil, nil, ErrNotFound
	}

	msg := &Message{}
	query := `
		INSERT INTO messages (id, chat_id, user_id, role, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, chat_id, user_id, role, content, created_at
	`
	err = tx.QueryRowContext(ctx, query, uuid.New().String(), chatID, userID, role, content).
		Scan(&msg.ID, &msg.ChatID, &msg.UserID, &msg.Role, &msg.Content, &msg.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create message: %w", err)
	}

	var request *ResearchRequest
	if role == "user" {
		request = &ResearchRequest{}
		query := `
			INSERT INTO research_requests (id, message_id, status)
			VALUES ($1, $2, $3)
			RETURNING id, message_id, status, created_at
		`
		err = tx.QueryRowContext(ctx, query, uuid.New().String(), msg.ID, RequestStatusPending).
			Scan(&request.ID, &request.MessageID, &request.Status, &request.CreatedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create research request: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = now() WHERE id = $1`, chatID); err != nil {
		return nil, nil, fmt.Errorf("failed to touch chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit message: %w", err)
	}

	return msg, request, nil
}

// ListMessages returns a chat's messages in ascending creation order, each
// joined with its research request and the latest result if present.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]MessageWithResearch, error) {
	query := `
		SELECT m.id, m.chat_id, m.user_id, m.role, m.content, m.created_at,
		       rr.id, rr.status, rr.created_at,
		       res.id, res.content, res.created_at
		FROM messages m
		LEFT JOIN research_requests rr ON rr.message_id = m.id
		LEFT JOIN LATERAL (
			SELECT id, content, created_at
			FROM research_results
			WHERE research_request_id = rr.id
			ORDER BY created_at DESC
			LIMIT 1
		) res ON TRUE
		WHERE m.chat_id = $1
		ORDER BY m.created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []MessageWithResearch{}
	for rows.Next() {
		var m MessageWithResearch
		var reqID, reqStatus sql.NullString
		var reqCreatedAt sql.NullTime
		var resID sql.NullString
		var resContent []byte
		var resCreatedAt sql.NullTime

		err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt,
			&reqID, &reqStatus, &reqCreatedAt,
			&resID, &resContent, &resCreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		if reqID.Valid {
			m.Request = &ResearchRequest{
				ID:        reqID.String,
				MessageID: m.ID,
				Status:    reqStatus.String,
				CreatedAt: reqCreatedAt.Time,
			}
			if resID.Valid {
				m.Result = &ResearchResult{
					ID:                resID.String,
					ResearchRequestID: reqID.String,
					Content:           json.RawMessage(resContent),
					CreatedAt:         resCreatedAt.Time,
				}
			}
		}

		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// ListHistoryBefore returns the messages of a chat created strictly before
// the given time, oldest first. Used to build the history snapshot handed to
// workers, which excludes the triggering message.
func (s *Store) ListHistoryBefore(ctx context.Context, chatID string, before time.Time) ([]Message, error) {
	query := `
		SELECT id, chat_id, user_id, role, content, created_at
		FROM messages
		WHERE chat_id = $1 AND created_at < $2
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, chatID, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// GetResearchRequest retrieves a research request by ID.
func (s *Store) GetResearchRequest(ctx context.Context, requestID string) (*ResearchRequest, error) {
	request := &ResearchRequest{}
	query := `
		SELECT id, message_id, status, created_at
		FROM research_requests
		WHERE id = $1
	`
	err := s.db.QueryRowContext(ctx, query, requestID).
		Scan(&request.ID, &request.MessageID, &request.Status, &request.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get research request: %w", err)
	}

	return request, nil
}

// GetLatestResult returns the most recent result for a request, or nil when
// no result has been submitted yet.
func (s *Store) GetLatestResult(ctx context.Context, requestID string) (*ResearchResult, error) {
	result := &ResearchResult{}
	var content []byte
	query := `
		SELECT id, research_request_id, content, created_at
		FROM research_results
		WHERE research_request_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	err := s.db.QueryRowContext(ctx, query, requestID).
		Scan(&result.ID, &result.ResearchRequestID, &content, &result.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest result: %w", err)
	}

	result.Content = json.RawMessage(content)
	return result, nil
}

// CompleteResearchRequest transitions a request to COMPLETED and records a
// new result row in a single transaction. Either both happen or neither does.
// Completing an already-COMPLETED request succeeds and records a new result.
func (s *Store) CompleteResearchRequest(ctx context.Context, requestID string, content json.RawMessage) (*ResearchResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE research_requests SET status = $2 WHERE id = $1`,
		requestID, RequestStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to update request status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update request status: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	result := &ResearchResult{}
	var stored []byte
	query := `
		INSERT INTO research_results (id, research_request_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, research_request_id, content, created_at
	`
	err = tx.QueryRowContext(ctx, query, uuid.New().String(), requestID, []byte(content)).
		Scan(&result.ID, &result.ResearchRequestID, &stored, &result.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert result: %w", err)
	}
	result.Content = json.RawMessage(stored)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit result: %w", err)
	}

	return result, nil
}

// ResetResearchRequest moves a request back to PENDING. Allowed from any
// state; the caller decides whether a new task is also enqueued.
func (s *Store) ResetResearchRequest(ctx context.Context, requestID string) (*ResearchRequest, error) {
	request := &ResearchRequest{}
	query := `
		UPDATE research_requests
		SET status = $2
		WHERE id = $1
		RETURNING id, message_id, status, created_at
	`
	err := s.db.QueryRowContext(ctx, query, requestID, RequestStatusPending).
		Scan(&request.ID, &request.MessageID, &request.Status, &request.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reset research request: %w", err)
	}

	return request, nil
}

// GetDispatchInfo loads the chat context of a request so a retry can rebuild
// the original queue task.
func (s *Store) GetDispatchInfo(ctx context.Context, requestID string) (*DispatchInfo, error) {
	info := &DispatchInfo{}
	query := `
		SELECT r.id, m.id, m.chat_id, c.user_id, m.content, m.created_at
		FROM research_requests r
		JOIN messages m ON m.id = r.message_id
		JOIN chats c ON c.id = m.chat_id
		WHERE r.id = $1
	`
	err := s.db.QueryRowContext(ctx, query, requestID).
		Scan(&info.RequestID, &info.MessageID, &info.ChatID, &info.UserID, &info.Query, &info.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatch info: %w", err)
	}

	return info, nil
}
