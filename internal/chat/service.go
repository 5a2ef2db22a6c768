// Package chat implements the chat and message service. Posting a user
// message is the entry point of the research pipeline: the message and its
// PENDING research request are persisted atomically, then a task is enqueued
// for workers on a best-effort basis.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/luminahq/research-server/internal/config"
	"github.com/luminahq/research-server/internal/logger"
	"github.com/luminahq/research-server/internal/queue"
	"github.com/luminahq/research-server/internal/storage/pg"
)

// ErrInvalidRole is returned when a message carries a role the endpoint does
// not accept.
var ErrInvalidRole = errors.New("invalid message role")

// Store is the persistence surface the chat service needs.
type Store interface {
	CreateChat(ctx context.Context, userID, title string) (*pg.Chat, error)
	GetChat(ctx context.Context, chatID string) (*pg.Chat, error)
	ListChatsByUser(ctx context.Context, userID string) ([]pg.Chat, error)
	UpdateChatTitle(ctx context.Context, chatID, title string) (*pg.Chat, error)
	DeleteChat(ctx context.Context, chatID string) error
	CreateMessage(ctx context.Context, chatID string, userID *string, role, content string) (*pg.Message, *pg.ResearchRequest, error)
	ListMessages(ctx context.Context, chatID string) ([]pg.MessageWithResearch, error)
	ListHistoryBefore(ctx context.Context, chatID string, before time.Time) ([]pg.Message, error)
}

// Enqueuer hands research tasks to the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *queue.Task) error
}

// Service implements chat operations on top of the store and task queue.
type Service struct {
	store      Store
	enqueuer   Enqueuer
	generation *config.GenerationDefaults
	logger     *logger.Logger
}

// NewService creates a chat service. generation may be nil when no defaults
// are configured; tasks are then enqueued without a config block.
func NewService(store Store, enqueuer Enqueuer, generation *config.GenerationDefaults, logger *logger.Logger) *Service {
	return &Service{
		store:      store,
		enqueuer:   enqueuer,
		generation: generation,
		logger:     logger.WithComponent("chat-service"),
	}
}

// CreateChat creates a chat for the user.
func (s *Service) CreateChat(ctx context.Context, userID, title string) (*pg.Chat, error) {
	return s.store.CreateChat(ctx, userID, title)
}

// ListChats returns the user's chats, most recently updated first.
func (s *Service) ListChats(ctx context.Context, userID string) ([]pg.Chat, error) {
	return s.store.ListChatsByUser(ctx, userID)
}

// GetChat returns a chat owned by the user. A chat owned by someone else is
// reported as not found rather than forbidden, so chat IDs are not probeable.
func (s *Service) GetChat(ctx context.Context, userID, chatID string) (*pg.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.UserID != userID {
		return nil, pg.ErrNotFound
	}
	return chat, nil
}

// RenameChat updates a chat's title.
func (s *Service) RenameChat(ctx context.Context, userID, chatID, title string) (*pg.Chat, error) {
	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.store.UpdateChatTitle(ctx, chatID, title)
}

// DeleteChat removes a chat and everything hanging off it.
func (s *Service) DeleteChat(ctx context.Context, userID, chatID string) error {
	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		return err
	}
	return s.store.DeleteChat(ctx, chatID)
}

// ListMessages returns a chat's messages with research state attached.
func (s *Service) ListMessages(ctx context.Context, userID, chatID string) ([]pg.MessageWithResearch, error) {
	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, chatID)
}

// PostMessage persists an end-user message. A "user" role message spawns a
// research request and a queue task; the task enqueue is best-effort and
// never fails the message write, since the PENDING request remains visible
// and retryable even when the queue is down.
func (s *Service) PostMessage(ctx context.Context, userID, chatID, role, content string) (*pg.Message, *pg.ResearchRequest, error) {
	switch role {
	case "user", "assistant", "system":
	default:
		return nil, nil, ErrInvalidRole
	}

	if _, err := s.GetChat(ctx, userID, chatID); err != nil {
		return nil, nil, err
	}

	msg, request, err := s.store.CreateMessage(ctx, chatID, &userID, role, content)
	if err != nil {
		return nil, nil, err
	}

	if request != nil {
		s.dispatch(ctx, msg, request)
	}

	return msg, request, nil
}

// AppendWorkerMessage persists a worker-authored message. The "user" role is
// rejected: a worker-posted user message would spawn a research request and
// let a misbehaving worker feed the pipeline with its own tasks.
func (s *Service) AppendWorkerMessage(ctx context.Context, chatID, role, content string) (*pg.Message, error) {
	switch role {
	case "assistant", "system":
	default:
		return nil, ErrInvalidRole
	}

	msg, _, err := s.store.CreateMessage(ctx, chatID, nil, role, content)
	return msg, err
}

// dispatch builds and enqueues the worker task for a freshly created request.
func (s *Service) dispatch(ctx context.Context, msg *pg.Message, request *pg.ResearchRequest) {
	task, err := s.buildTask(ctx, msg, request)
	if err != nil {
		s.logger.WithContext(ctx).Error("failed to build research task",
			slog.String("request_id", request.ID),
			slog.String("error", err.Error()))
		return
	}

	if err := s.enqueuer.Enqueue(ctx, task); err != nil {
		s.logger.WithContext(ctx).Error("failed to enqueue research task, request stays pending",
			slog.String("request_id", request.ID),
			slog.String("chat_id", msg.ChatID),
			slog.String("error", err.Error()))
	}
}

// buildTask assembles the wire payload for workers. The history snapshot
// holds the chat's prior messages in order and excludes the triggering
// message, which travels separately as the query.
func (s *Service) buildTask(ctx context.Context, msg *pg.Message, request *pg.ResearchRequest) (*queue.Task, error) {
	prior, err := s.store.ListHistoryBefore(ctx, msg.ChatID, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	history := make([]queue.HistoryEntry, 0, len(prior))
	for _, m := range prior {
		history = append(history, queue.HistoryEntry{Role: m.Role, Content: m.Content})
	}

	return &queue.Task{
		RequestID: request.ID,
		UserID:    msg.UserID,
		ChatID:    msg.ChatID,
		Query:     msg.Content,
		History:   history,
		Config:    s.generation,
	}, nil
}
