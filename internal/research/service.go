// Package research owns the research request state machine and the worker
// completion gateway. A request only ever moves PENDING -> COMPLETED;
// completion is idempotent and records a new result row each time, with the
// latest result winning for display.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/luminahq/research-server/internal/config"
	"github.com/luminahq/research-server/internal/events"
	"github.com/luminahq/research-server/internal/logger"
	"github.com/luminahq/research-server/internal/queue"
	"github.com/luminahq/research-server/internal/storage/pg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resultsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_results_submitted_total",
		Help: "Number of worker result submissions accepted by the gateway.",
	})
	requestsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_requests_retried_total",
		Help: "Number of requests reset to PENDING via retry.",
	})
)

// ErrMalformedPayload is returned when a submitted result body is not valid
// JSON. The request is left untouched.
var ErrMalformedPayload = errors.New("malformed result payload")

// reportPreviewLimit bounds the preview attached to the completion event.
const reportPreviewLimit = 200

// Store is the persistence surface the research service needs.
type Store interface {
	GetResearchRequest(ctx context.Context, requestID string) (*pg.ResearchRequest, error)
	GetLatestResult(ctx context.Context, requestID string) (*pg.ResearchResult, error)
	CompleteResearchRequest(ctx context.Context, requestID string, content json.RawMessage) (*pg.ResearchResult, error)
	ResetResearchRequest(ctx context.Context, requestID string) (*pg.ResearchRequest, error)
	GetDispatchInfo(ctx context.Context, requestID string) (*pg.DispatchInfo, error)
	ListHistoryBefore(ctx context.Context, chatID string, before time.Time) ([]pg.Message, error)
}

// Enqueuer hands rebuilt tasks to the queue on retry.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *queue.Task) error
}

// Emitter publishes agent updates after state changes commit.
type Emitter interface {
	Emit(ctx context.Context, event *events.AgentUpdate)
}

// Service implements the request state machine.
type Service struct {
	store      Store
	enqueuer   Enqueuer
	emitter    Emitter
	reenqueue  bool
	generation *config.GenerationDefaults
	logger     *logger.Logger
}

// NewService creates a research service. reenqueue controls whether a retry
// republishes the task in addition to resetting the status.
func NewService(store Store, enqueuer Enqueuer, emitter Emitter, reenqueue bool, generation *config.GenerationDefaults, logger *logger.Logger) *Service {
	return &Service{
		store:      store,
		enqueuer:   enqueuer,
		emitter:    emitter,
		reenqueue:  reenqueue,
		generation: generation,
		logger:     logger.WithComponent("research-service"),
	}
}

// RequestState is a request joined with its latest result, if any.
type RequestState struct {
	Request *pg.ResearchRequest `json:"request"`
	Result  *pg.ResearchResult  `json:"result,omitempty"`
}

// GetRequest returns a request with its latest result.
func (s *Service) GetRequest(ctx context.Context, requestID string) (*RequestState, error) {
	request, err := s.store.GetResearchRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	result, err := s.store.GetLatestResult(ctx, requestID)
	if err != nil {
		return nil, err
	}

	return &RequestState{Request: request, Result: result}, nil
}

// SubmitResult accepts a worker's result for a request. The status update
// and the result insert commit in one transaction; only after the commit is
// the completion event published, so clients never see a completion the
// database could still lose.
func (s *Service) SubmitResult(ctx context.Context, requestID string, content json.RawMessage) (*pg.ResearchResult, error) {
	if len(content) == 0 || !json.Valid(content) {
		return nil, ErrMalformedPayload
	}

	result, err := s.store.CompleteResearchRequest(ctx, requestID, content)
	if err != nil {
		return nil, err
	}
	resultsSubmitted.Inc()

	s.emitCompleted(ctx, requestID, content)

	return result, nil
}

// emitCompleted publishes the completion event. Failures only cost liveness:
// the client can always fetch the result over HTTP.
func (s *Service) emitCompleted(ctx context.Context, requestID string, content json.RawMessage) {
	info, err := s.store.GetDispatchInfo(ctx, requestID)
	if err != nil {
		s.logger.WithContext(ctx).Warn("completed but could not resolve event target",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return
	}

	preview := string(content)
	if len(preview) > reportPreviewLimit {
		preview = preview[:reportPreviewLimit]
	}

	s.emitter.Emit(ctx, &events.AgentUpdate{
		TargetUserID: info.UserID,
		Type:         events.TypeAgentUpdate,
		Payload: events.UpdatePayload{
			Agent:   "researcher",
			Status:  events.StatusOutput,
			Message: "Research complete",
			Data: events.EventData{
				RequestID:     requestID,
				ChatID:        info.ChatID,
				EventType:     events.EventCompleted,
				ReportPreview: preview,
			},
		},
	})
}

// Retry resets a request to PENDING from any state. When re-enqueueing is
// enabled the original task is rebuilt from the stored chat context and
// published again; an enqueue failure still leaves the request PENDING and
// retryable.
func (s *Service) Retry(ctx context.Context, requestID string) (*pg.ResearchRequest, error) {
	request, err := s.store.ResetResearchRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	requestsRetried.Inc()

	if s.reenqueue {
		if err := s.reenqueueTask(ctx, requestID); err != nil {
			s.logger.WithContext(ctx).Error("retry accepted but re-enqueue failed",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()))
		}
	}

	return request, nil
}

// reenqueueTask rebuilds the queue task for an existing request. The history
// snapshot is rebuilt the same way the original dispatch built it: every
// message created before the triggering one, oldest first.
func (s *Service) reenqueueTask(ctx context.Context, requestID string) error {
	info, err := s.store.GetDispatchInfo(ctx, requestID)
	if err != nil {
		return fmt.Errorf("failed to load dispatch info: %w", err)
	}

	prior, err := s.store.ListHistoryBefore(ctx, info.ChatID, info.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to load chat history: %w", err)
	}

	history := make([]queue.HistoryEntry, 0, len(prior))
	for _, m := range prior {
		history = append(history, queue.HistoryEntry{Role: m.Role, Content: m.Content})
	}

	userID := info.UserID
	return s.enqueuer.Enqueue(ctx, &queue.Task{
		RequestID: info.RequestID,
		UserID:    &userID,
		ChatID:    info.ChatID,
		Query:     info.Query,
		History:   history,
		Config:    s.generation,
	})
}
