package session

import (
	"testing"

	"github.com/luminahq/research-server/internal/events"
	"github.com/luminahq/research-server/internal/logger"
)

type fakeSink struct {
	chatID  string
	role    string
	content string
	calls   int
}

func (f *fakeSink) AppendMessage(chatID, role, content string) error {
	f.chatID = chatID
	f.role = role
	f.content = content
	f.calls++
	return nil
}

type fakeTitler struct {
	chatID string
	title  string
	calls  int
}

func (f *fakeTitler) SetChatTitle(chatID, title string) error {
	f.chatID = chatID
	f.title = title
	f.calls++
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Format: "text"})
}

func update(requestID, chatID, eventType string, data events.EventData) *events.AgentUpdate {
	data.RequestID = requestID
	data.ChatID = chatID
	data.EventType = eventType
	return &events.AgentUpdate{
		TargetUserID: "user-1",
		Type:         events.TypeAgentUpdate,
		Payload: events.UpdatePayload{
			Agent:  "researcher",
			Status: events.StatusAction,
			Data:   data,
		},
	}
}

func TestDispatcher_LazyInitOnFirstEvent(t *testing.T) {
	d := NewDispatcher(nil, nil, testLogger())
	d.SetActiveChat("chat-1")

	// A mid-run event arrives before any plan; the view must still appear.
	d.Handle(update("req-1", "chat-1", events.EventReportChunk, events.EventData{Chunk: "hello"}))

	view := d.View()
	if view == nil {
		t.Fatal("expected lazily initialized view")
	}
	if view.RequestID != "req-1" {
		t.Errorf("expected request 'req-1', got '%s'", view.RequestID)
	}
	if view.Report() != "hello" {
		t.Errorf("expected chunk applied, got '%s'", view.Report())
	}
}

func TestDispatcher_DropsEventsForOtherChats(t *testing.T) {
	d := NewDispatcher(nil, nil, testLogger())
	d.SetActiveChat("chat-1")

	d.Handle(update("req-9", "chat-other", events.EventReportChunk, events.EventData{Chunk: "zombie"}))

	if d.View() != nil {
		t.Error("expected event for other chat to be dropped")
	}
}

func TestDispatcher_NewRequestSupersedesView(t *testing.T) {
	d := NewDispatcher(nil, nil, testLogger())
	d.SetActiveChat("chat-1")

	d.Handle(update("req-1", "chat-1", events.EventReportChunk, events.EventData{Chunk: "old"}))
	d.Handle(update("req-2", "chat-1", events.EventReportChunk, events.EventData{Chunk: "new"}))

	view := d.View()
	if view.RequestID != "req-2" {
		t.Fatalf("expected view for 'req-2', got '%s'", view.RequestID)
	}
	if view.Report() != "new" {
		t.Errorf("expected fresh buffer, got '%s'", view.Report())
	}
}

func TestDispatcher_DiscardsTrailingCompletionOfUnknownRequest(t *testing.T) {
	sink := &fakeSink{}
	d := NewDispatcher(sink, nil, testLogger())
	d.SetActiveChat("chat-1")

	d.Handle(update("req-1", "chat-1", events.EventReportChunk, events.EventData{Chunk: "live"}))

	// Completion of a request we never tracked must not clobber the live
	// view or commit an empty report.
	d.Handle(update("req-ghost", "chat-1", events.EventCompleted, events.EventData{}))

	view := d.View()
	if view == nil || view.RequestID != "req-1" {
		t.Fatal("expected live view to survive")
	}
	if view.Status == StatusCompleted {
		t.Error("live view must not be completed by a ghost event")
	}
	if sink.calls != 0 {
		t.Errorf("expected no message committed, got %d", sink.calls)
	}
}

func TestDispatcher_FullRunCommitsReport(t *testing.T) {
	sink := &fakeSink{}
	d := NewDispatcher(sink, nil, testLogger())
	d.SetActiveChat("chat-1")

	idx := 0
	d.Handle(update("req-1", "chat-1", events.EventPlanCreated, events.EventData{TOC: []string{"A", "B"}}))
	d.Handle(update("req-1", "chat-1", events.EventResearchStarted, events.EventData{SectionIndex: &idx, Topic: "A"}))
	d.Handle(update("req-1", "chat-1", events.EventToolStart, events.EventData{Query: "a query"}))
	d.Handle(update("req-1", "chat-1", events.EventSourceFound, events.EventData{URL: "https://a.example", Title: "A"}))
	d.Handle(update("req-1", "chat-1", events.EventReportChunk, events.EventData{Chunk: "report "}))
	d.Handle(update("req-1", "chat-1", events.EventReportChunk, events.EventData{Chunk: "body"}))
	d.Handle(update("req-1", "chat-1", events.EventCompleted, events.EventData{}))

	view := d.View()
	if view.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", view.Status)
	}
	if sink.calls != 1 {
		t.Fatalf("expected exactly one commit, got %d", sink.calls)
	}
	if sink.chatID != "chat-1" || sink.role != "assistant" {
		t.Errorf("unexpected commit target: chat='%s' role='%s'", sink.chatID, sink.role)
	}
	if sink.content != "report body" {
		t.Errorf("expected accumulated report, got '%s'", sink.content)
	}
}

func TestDispatcher_TitleGeneratedAppliesTitle(t *testing.T) {
	titler := &fakeTitler{}
	d := NewDispatcher(nil, titler, testLogger())
	d.SetActiveChat("chat-1")

	d.Handle(update("req-1", "chat-1", events.EventTitleGenerated, events.EventData{Title: "Deep Dive"}))

	if titler.calls != 1 {
		t.Fatalf("expected titler called once, got %d", titler.calls)
	}
	if titler.chatID != "chat-1" || titler.title != "Deep Dive" {
		t.Errorf("unexpected title application: chat='%s' title='%s'", titler.chatID, titler.title)
	}
}

func TestDispatcher_ErrorEventLazilyInitializes(t *testing.T) {
	d := NewDispatcher(nil, nil, testLogger())
	d.SetActiveChat("chat-1")

	d.Handle(&events.AgentUpdate{
		TargetUserID: "user-1",
		Type:         events.TypeAgentError,
		Payload: events.UpdatePayload{
			Message: "",
			Data:    events.EventData{RequestID: "req-1", ChatID: "chat-1"},
		},
	})

	view := d.View()
	if view == nil {
		t.Fatal("expected view for error event")
	}
	if view.Status != StatusError {
		t.Errorf("expected error status, got %s", view.Status)
	}
	if view.Message != "An error occurred." {
		t.Errorf("expected fallback message, got '%s'", view.Message)
	}
}

func TestDispatcher_GenericStatusUpdate(t *testing.T) {
	d := NewDispatcher(nil, nil, testLogger())
	d.SetActiveChat("chat-1")

	d.Handle(&events.AgentUpdate{
		TargetUserID: "user-1",
		Type:         events.TypeAgentUpdate,
		Payload: events.UpdatePayload{
			Status:  events.StatusOutput,
			Message: "Writing up findings",
			Data:    events.EventData{RequestID: "req-1", ChatID: "chat-1"},
		},
	})

	view := d.View()
	if view.Status != StatusWriting {
		t.Errorf("expected writing, got %s", view.Status)
	}
	if view.Message != "Writing up findings" {
		t.Errorf("unexpected message '%s'", view.Message)
	}
}

func TestDispatcher_SetActiveChatResetsView(t *testing.T) {
	d := NewDispatcher(nil, nil, testLogger())
	d.SetActiveChat("chat-1")
	d.Handle(update("req-1", "chat-1", events.EventReportChunk, events.EventData{Chunk: "x"}))

	d.SetActiveChat("chat-2")
	if d.View() != nil {
		t.Error("expected view cleared on chat switch")
	}
}
