package research

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/luminahq/research-server/internal/events"
	"github.com/luminahq/research-server/internal/logger"
	"github.com/luminahq/research-server/internal/queue"
	"github.com/luminahq/research-server/internal/storage/pg"
)

type fakeStore struct {
	requests map[string]*pg.ResearchRequest
	results  map[string][]pg.ResearchResult
	dispatch map[string]*pg.DispatchInfo
	history  []pg.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests: make(map[string]*pg.ResearchRequest),
		results:  make(map[string][]pg.ResearchResult),
		dispatch: make(map[string]*pg.DispatchInfo),
	}
}

func (f *fakeStore) addRequest(id, status string) {
	f.requests[id] = &pg.ResearchRequest{ID: id, MessageID: "msg-" + id, Status: status}
	f.dispatch[id] = &pg.DispatchInfo{
		RequestID: id,
		MessageID: "msg-" + id,
		ChatID:    "chat-1",
		UserID:    "user-1",
		Query:     "original query",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC),
	}
}

func (f *fakeStore) GetResearchRequest(ctx context.Context, requestID string) (*pg.ResearchRequest, error) {
	request, ok := f.requests[requestID]
	if !ok {
		return nil, pg.ErrNotFound
	}
	return request, nil
}

func (f *fakeStore) GetLatestResult(ctx context.Context, requestID string) (*pg.ResearchResult, error) {
	results := f.results[requestID]
	if len(results) == 0 {
		return nil, nil
	}
	latest := results[len(results)-1]
	return &latest, nil
}

func (f *fakeStore) CompleteResearchRequest(ctx context.Context, requestID string, content json.RawMessage) (*pg.ResearchResult, error) {
	request, ok := f.requests[requestID]
	if !ok {
		return nil, pg.ErrNotFound
	}
	request.Status = pg.RequestStatusCompleted

	result := pg.ResearchResult{
		ID:                "res-" + requestID,
		ResearchRequestID: requestID,
		Content:           content,
	}
	f.results[requestID] = append(f.results[requestID], result)
	return &result, nil
}

func (f *fakeStore) ResetResearchRequest(ctx context.Context, requestID string) (*pg.ResearchRequest, error) {
	request, ok := f.requests[requestID]
	if !ok {
		return nil, pg.ErrNotFound
	}
	request.Status = pg.RequestStatusPending
	return request, nil
}

func (f *fakeStore) GetDispatchInfo(ctx context.Context, requestID string) (*pg.DispatchInfo, error) {
	info, ok := f.dispatch[requestID]
	if !ok {
		return nil, pg.ErrNotFound
	}
	return info, nil
}

func (f *fakeStore) ListHistoryBefore(ctx context.Context, chatID string, before time.Time) ([]pg.Message, error) {
	out := []pg.Message{}
	for _, m := range f.history {
		if m.ChatID == chatID && m.CreatedAt.Before(before) {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeEnqueuer struct {
	tasks []*queue.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, task *queue.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

type fakeEmitter struct {
	events []*events.AgentUpdate
}

func (f *fakeEmitter) Emit(ctx context.Context, event *events.AgentUpdate) {
	f.events = append(f.events, event)
}

func testService(store *fakeStore, enqueuer *fakeEnqueuer, emitter *fakeEmitter, reenqueue bool) *Service {
	return NewService(store, enqueuer, emitter, reenqueue, nil, logger.New(logger.Config{Format: "text"}))
}

func TestSubmitResult_CompletesAndEmits(t *testing.T) {
	store := newFakeStore()
	store.addRequest("req-1", pg.RequestStatusPending)
	emitter := &fakeEmitter{}
	svc := testService(store, &fakeEnqueuer{}, emitter, false)

	content := json.RawMessage(`{"report":"findings"}`)
	result, err := svc.SubmitResult(context.Background(), "req-1", content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result")
	}

	if store.requests["req-1"].Status != pg.RequestStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", store.requests["req-1"].Status)
	}

	if len(emitter.events) != 1 {
		t.Fatalf("expected 1 completion event, got %d", len(emitter.events))
	}
	event := emitter.events[0]
	if event.TargetUserID != "user-1" {
		t.Errorf("expected event targeted at chat owner, got '%s'", event.TargetUserID)
	}
	if event.Payload.Data.EventType != events.EventCompleted {
		t.Errorf("expected completed event, got '%s'", event.Payload.Data.EventType)
	}
	if event.Payload.Data.ChatID != "chat-1" {
		t.Errorf("expected chat ID on event, got '%s'", event.Payload.Data.ChatID)
	}
}

func TestSubmitResult_IdempotentLatestWins(t *testing.T) {
	store := newFakeStore()
	store.addRequest("req-1", pg.RequestStatusPending)
	svc := testService(store, &fakeEnqueuer{}, &fakeEmitter{}, false)

	if _, err := svc.SubmitResult(context.Background(), "req-1", json.RawMessage(`{"v":1}`)); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if _, err := svc.SubmitResult(context.Background(), "req-1", json.RawMessage(`{"v":2}`)); err != nil {
		t.Fatalf("second submit must be accepted, got: %v", err)
	}

	if len(store.results["req-1"]) != 2 {
		t.Fatalf("expected both results kept, got %d", len(store.results["req-1"]))
	}

	state, err := svc.GetRequest(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(state.Result.Content) != `{"v":2}` {
		t.Errorf("expected latest result to win, got %s", state.Result.Content)
	}
}

func TestSubmitResult_MalformedPayloadLeavesStateUntouched(t *testing.T) {
	store := newFakeStore()
	store.addRequest("req-1", pg.RequestStatusPending)
	emitter := &fakeEmitter{}
	svc := testService(store, &fakeEnqueuer{}, emitter, false)

	_, err := svc.SubmitResult(context.Background(), "req-1", json.RawMessage(`{"broken`))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	_, err = svc.SubmitResult(context.Background(), "req-1", nil)
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload for empty body, got %v", err)
	}

	if store.requests["req-1"].Status != pg.RequestStatusPending {
		t.Errorf("request must stay PENDING, got %s", store.requests["req-1"].Status)
	}
	if len(store.results["req-1"]) != 0 {
		t.Errorf("no result rows expected, got %d", len(store.results["req-1"]))
	}
	if len(emitter.events) != 0 {
		t.Errorf("no events expected, got %d", len(emitter.events))
	}
}

func TestSubmitResult_UnknownRequest(t *testing.T) {
	svc := testService(newFakeStore(), &fakeEnqueuer{}, &fakeEmitter{}, false)

	_, err := svc.SubmitResult(context.Background(), "ghost", json.RawMessage(`{}`))
	if !errors.Is(err, pg.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRetry_ResetsCompletedRequest(t *testing.T) {
	store := newFakeStore()
	store.addRequest("req-1", pg.RequestStatusCompleted)
	enqueuer := &fakeEnqueuer{}
	svc := testService(store, enqueuer, &fakeEmitter{}, false)

	request, err := svc.Retry(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if request.Status != pg.RequestStatusPending {
		t.Errorf("expected PENDING after retry, got %s", request.Status)
	}
	if len(enqueuer.tasks) != 0 {
		t.Errorf("re-enqueue disabled, expected no tasks, got %d", len(enqueuer.tasks))
	}
}

func TestRetry_ReenqueueRebuildsTask(t *testing.T) {
	store := newFakeStore()
	store.addRequest("req-1", pg.RequestStatusCompleted)
	store.history = []pg.Message{
		{ChatID: "chat-1", Role: "user", Content: "earlier question",
			CreatedAt: time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)},
		{ChatID: "chat-1", Role: "user", Content: "original query",
			CreatedAt: time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)},
	}
	enqueuer := &fakeEnqueuer{}
	svc := testService(store, enqueuer, &fakeEmitter{}, true)

	if _, err := svc.Retry(context.Background(), "req-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(enqueuer.tasks) != 1 {
		t.Fatalf("expected 1 re-enqueued task, got %d", len(enqueuer.tasks))
	}
	task := enqueuer.tasks[0]
	if task.RequestID != "req-1" || task.ChatID != "chat-1" || task.Query != "original query" {
		t.Errorf("unexpected task: %+v", task)
	}
	if len(task.History) != 1 || task.History[0].Content != "earlier question" {
		t.Errorf("history must exclude the triggering message, got %v", task.History)
	}
}

func TestRetry_ReenqueueFailureStillResets(t *testing.T) {
	store := newFakeStore()
	store.addRequest("req-1", pg.RequestStatusCompleted)
	enqueuer := &fakeEnqueuer{err: queue.ErrQueueUnavailable}
	svc := testService(store, enqueuer, &fakeEmitter{}, true)

	request, err := svc.Retry(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("retry must survive a queue outage, got: %v", err)
	}
	if request.Status != pg.RequestStatusPending {
		t.Errorf("expected PENDING despite enqueue failure, got %s", request.Status)
	}
}

func TestRetry_UnknownRequest(t *testing.T) {
	svc := testService(newFakeStore(), &fakeEnqueuer{}, &fakeEmitter{}, false)

	_, err := svc.Retry(context.Background(), "ghost")
	if !errors.Is(err, pg.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetRequest_NoResultYet(t *testing.T) {
	store := newFakeStore()
	store.addRequest("req-1", pg.RequestStatusPending)
	svc := testService(store, &fakeEnqueuer{}, &fakeEmitter{}, false)

	state, err := svc.GetRequest(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Request.Status != pg.RequestStatusPending {
		t.Errorf("expected PENDING, got %s", state.Request.Status)
	}
	if state.Result != nil {
		t.Errorf("expected nil result, got %+v", state.Result)
	}
}
