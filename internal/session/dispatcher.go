package session

import (
	"log/slog"
	"sync"

	"github.com/luminahq/research-server/internal/events"
	"github.com/luminahq/research-server/internal/logger"
)

// MessageSink receives the finished report when a research run completes.
type MessageSink interface {
	AppendMessage(chatID, role, content string) error
}

// ChatTitler applies a generated title to a chat.
type ChatTitler interface {
	SetChatTitle(chatID, title string) error
}

// Dispatcher folds incoming agent update events into the active research
// view. Events for a chat other than the active one are dropped before they
// reach the view; events carrying a new request ID supersede the active view
// unless they are a trailing completion from an abandoned run.
type Dispatcher struct {
	mu           sync.Mutex
	view         *View
	activeChatID string

	sink   MessageSink
	titler ChatTitler
	logger *logger.Logger
}

// NewDispatcher creates a dispatcher. sink and titler may be nil when the
// caller only wants the live view.
func NewDispatcher(sink MessageSink, titler ChatTitler, logger *logger.Logger) *Dispatcher {
	return &Dispatcher{
		sink:   sink,
		titler: titler,
		logger: logger.WithComponent("session"),
	}
}

// SetActiveChat sets the chat whose events should be applied. Events for
// other chats are dropped entirely.
func (d *Dispatcher) SetActiveChat(chatID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activeChatID = chatID
	d.view = nil
}

// View returns the active view, or nil when no research run is live.
func (d *Dispatcher) View() *View {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view
}

// Reset clears the active view.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.view = nil
}

// Handle applies one event.
func (d *Dispatcher) Handle(event *events.AgentUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data := event.Payload.Data

	// Events for a non-active chat never reach the view. Prevents a zombie
	// task from a previous chat from hijacking the UI.
	if data.ChatID != "" && d.activeChatID != "" && data.ChatID != d.activeChatID {
		return
	}

	switch event.Type {
	case events.TypeAgentUpdate:
		d.handleUpdate(event)
	case events.TypeAgentError:
		d.handleError(event)
	}
}

func (d *Dispatcher) handleUpdate(event *events.AgentUpdate) {
	data := event.Payload.Data

	if data.RequestID != "" && (d.view == nil || d.view.RequestID != data.RequestID) {
		if data.EventType == events.EventCompleted {
			// Trailing completion of a run we are not tracking; finalizing
			// it would commit a report buffer we never accumulated.
			return
		}
		// Lazily initialize on first sight of a request ID. Also covers a
		// client that connected mid-run and never saw the early events.
		d.view = NewView(data.RequestID)
	}
	if d.view == nil {
		return
	}

	switch data.EventType {
	case events.EventPlanCreated:
		if len(data.TOC) > 0 {
			d.view.SetPlan(data.TOC)
			d.view.Message = "Plan created"
		}

	case events.EventResearchStarted:
		if data.SectionIndex != nil {
			d.view.SetCurrentStep(*data.SectionIndex)
			d.view.Message = "Researching: " + data.Topic
		}

	case events.EventToolStart:
		if data.Query != "" {
			d.view.AddQuery(data.Query)
		}

	case events.EventSourceFound:
		if data.URL != "" && data.Title != "" {
			d.view.AddSource(Source{URL: data.URL, Title: data.Title})
		}

	case events.EventReportChunk:
		if data.Chunk != "" {
			d.view.AddReportChunk(data.Chunk)
		}

	case events.EventTitleGenerated:
		if d.titler != nil && data.Title != "" && data.ChatID != "" {
			if err := d.titler.SetChatTitle(data.ChatID, data.Title); err != nil {
				d.logger.Warn("failed to apply generated title",
					slog.String("chat_id", data.ChatID),
					slog.String("error", err.Error()))
			}
		}

	case events.EventCompleted:
		d.view.Complete()
		if d.sink != nil {
			chatID := data.ChatID
			if chatID == "" {
				chatID = d.activeChatID
			}
			if err := d.sink.AppendMessage(chatID, "assistant", d.view.Report()); err != nil {
				d.logger.Error("failed to commit completed report",
					slog.String("chat_id", chatID),
					slog.String("error", err.Error()))
			}
		}

	default:
		// Generic status update: map the coarse agent status onto the view.
		status := StatusThinking
		switch event.Payload.Status {
		case events.StatusAction:
			status = StatusResearching
		case events.StatusOutput:
			status = StatusWriting
		}
		d.view.SetStatus(status, event.Payload.Message)
	}
}

func (d *Dispatcher) handleError(event *events.AgentUpdate) {
	data := event.Payload.Data

	if data.RequestID != "" && (d.view == nil || d.view.RequestID != data.RequestID) {
		d.view = NewView(data.RequestID)
	}
	if d.view == nil {
		return
	}

	message := event.Payload.Message
	if message == "" {
		message = "An error occurred."
	}
	d.view.SetError(message)
}
