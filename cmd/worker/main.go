// Command worker is a reference research worker. It dequeues tasks, emits
// the full progress event sequence over NATS and submits a generated report
// through the completion gateway. Production workers implement the same
// protocol with a real generation backend; this one produces a deterministic
// report so the pipeline can be exercised end to end without provider
// credentials.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/luminahq/research-server/internal/config"
	"github.com/luminahq/research-server/internal/events"
	"github.com/luminahq/research-server/internal/logger"
	"github.com/luminahq/research-server/internal/queue"
	"github.com/nats-io/nats.go"
)

const chunkSize = 256

func main() {
	config.LoadConfig()

	appLogger := logger.New(logger.FromConfig(config.AppConfig.LogLevel, config.AppConfig.LogFormat)).
		WithComponent("worker")

	apiBaseURL := os.Getenv("API_BASE_URL")
	if apiBaseURL == "" {
		apiBaseURL = "http://localhost:" + config.AppConfig.Port
	}

	nc, err := nats.Connect(config.AppConfig.NatsURL,
		nats.Name("research-worker-"+logger.GetInstanceID()),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		appLogger.Error("failed to connect to NATS", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer nc.Close()

	consumer, err := queue.NewConsumer(nc, appLogger)
	if err != nil {
		appLogger.Error("failed to create consumer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer consumer.Close()

	w := &worker{
		emitter:      events.NewEmitter(nc, appLogger),
		client:       &http.Client{Timeout: 30 * time.Second},
		apiBaseURL:   strings.TrimRight(apiBaseURL, "/"),
		workerSecret: config.AppConfig.WorkerSecret,
		logger:       appLogger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLogger.Info("worker started", slog.String("api", w.apiBaseURL))

	for {
		delivery, err := consumer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				appLogger.Info("worker shutting down")
				return
			}
			appLogger.Error("dequeue failed", slog.String("error", err.Error()))
			time.Sleep(2 * time.Second)
			continue
		}

		if err := w.process(ctx, delivery.Task); err != nil {
			appLogger.Error("task failed",
				slog.String("request_id", delivery.Task.RequestID),
				slog.String("error", err.Error()))
			w.emitError(delivery.Task, "Research failed: "+err.Error())
		}

		// Ack either way: a deterministic failure would fail the redelivery
		// too, and the request stays PENDING and retryable.
		if err := delivery.Ack(); err != nil {
			appLogger.Warn("failed to ack delivery", slog.String("error", err.Error()))
		}
	}
}

type worker struct {
	emitter      *events.Emitter
	client       *http.Client
	apiBaseURL   string
	workerSecret string
	logger       *logger.Logger
}

// process runs one research task through the full event protocol. The
// completion event itself is published by the gateway after the result
// commits, so the worker never emits event_type "completed".
func (w *worker) process(ctx context.Context, task *queue.Task) error {
	sections := planSections(task.Query)

	w.emit(task, events.StatusThinking, "Planning research", events.EventData{
		EventType: events.EventPlanCreated,
		TOC:       sections,
	})

	var report strings.Builder
	for i, topic := range sections {
		index := i
		w.emit(task, events.StatusAction, "Researching: "+topic, events.EventData{
			EventType:    events.EventResearchStarted,
			SectionIndex: &index,
			Topic:        topic,
		})

		query := topic + " " + task.Query
		w.emit(task, events.StatusAction, "Searching", events.EventData{
			EventType: events.EventToolStart,
			Tool:      "web_search",
			Query:     query,
		})

		w.emit(task, events.StatusAction, "Source found", events.EventData{
			EventType: events.EventSourceFound,
			URL:       fmt.Sprintf("https://example.com/%d", i+1),
			Title:     "Reference " + topic,
		})

		writeSection(&report, topic, task.Query, i)
	}

	if err := w.streamReport(task, report.String()); err != nil {
		return err
	}

	w.emit(task, events.StatusOutput, "Title generated", events.EventData{
		EventType: events.EventTitleGenerated,
		Title:     chatTitle(task.Query),
	})

	if err := w.submitResult(ctx, task, report.String()); err != nil {
		return err
	}

	return w.appendReportMessage(ctx, task, report.String())
}

// streamReport emits the report as ordered chunks.
func (w *worker) streamReport(task *queue.Task, report string) error {
	for i := 0; i*chunkSize < len(report); i++ {
		end := (i + 1) * chunkSize
		if end > len(report) {
			end = len(report)
		}
		index := i
		w.emit(task, events.StatusOutput, "Writing report", events.EventData{
			EventType:  events.EventReportChunk,
			Chunk:      report[i*chunkSize : end],
			ChunkIndex: &index,
		})
	}
	return nil
}

// submitResult posts the finished report to the completion gateway.
func (w *worker) submitResult(ctx context.Context, task *queue.Task, report string) error {
	content, err := json.Marshal(map[string]string{"report": report})
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	body, err := json.Marshal(map[string]json.RawMessage{"content": content})
	if err != nil {
		return fmt.Errorf("failed to marshal result body: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/worker/research/%s/result", w.apiBaseURL, task.RequestID)
	return w.post(ctx, url, body)
}

// appendReportMessage persists the report as an assistant chat message.
func (w *worker) appendReportMessage(ctx context.Context, task *queue.Task, report string) error {
	body, err := json.Marshal(map[string]string{"role": "assistant", "content": report})
	if err != nil {
		return fmt.Errorf("failed to marshal message body: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/worker/chats/%s/messages", w.apiBaseURL, task.ChatID)
	return w.post(ctx, url, body)
}

func (w *worker) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Worker-Secret", w.workerSecret)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return nil
}

func (w *worker) emit(task *queue.Task, status, message string, data events.EventData) {
	if task.UserID == nil {
		return
	}
	data.RequestID = task.RequestID
	data.ChatID = task.ChatID

	w.emitter.Emit(context.Background(), &events.AgentUpdate{
		TargetUserID: *task.UserID,
		Type:         events.TypeAgentUpdate,
		Payload: events.UpdatePayload{
			Agent:   "researcher",
			Status:  status,
			Message: message,
			Data:    data,
		},
	})
}

func (w *worker) emitError(task *queue.Task, message string) {
	if task.UserID == nil {
		return
	}
	w.emitter.Emit(context.Background(), &events.AgentUpdate{
		TargetUserID: *task.UserID,
		Type:         events.TypeAgentError,
		Payload: events.UpdatePayload{
			Agent:   "researcher",
			Status:  events.StatusOutput,
			Message: message,
			Data: events.EventData{
				RequestID: task.RequestID,
				ChatID:    task.ChatID,
			},
		},
	})
}

// planSections derives a fixed three-part outline from the query.
func planSections(query string) []string {
	base := chatTitle(query)
	return []string{
		"Overview of " + base,
		"Key findings",
		"Conclusions",
	}
}

// writeSection appends one tag-delimited section to the report.
func writeSection(report *strings.Builder, topic, query string, index int) {
	fmt.Fprintf(report, `<section title="%s">`, topic)
	fmt.Fprintf(report, "<text>%s, examined in the context of %s.</text>", topic, query)
	fmt.Fprintf(report, `<sources><link url="https://example.com/%d" title="Reference %s" /></sources>`, index+1, topic)
	report.WriteString("</section>")
}

// chatTitle shortens a query into a chat title.
func chatTitle(query string) string {
	words := strings.Fields(query)
	if len(words) > 6 {
		words = words[:6]
	}
	title := strings.Join(words, " ")
	if title == "" {
		return "Research"
	}
	return title
}
