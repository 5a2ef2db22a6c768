// Command client is a terminal client for the research pipeline. It posts a
// query, follows the live event stream over the websocket and renders the
// report as it streams in.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luminahq/research-server/internal/events"
	"github.com/luminahq/research-server/internal/logger"
	"github.com/luminahq/research-server/internal/report"
	"github.com/luminahq/research-server/internal/session"
	"github.com/luminahq/research-server/internal/storage/pg"
)

func main() {
	apiBase := flag.String("api", "http://localhost:8080", "server base URL")
	token := flag.String("token", os.Getenv("RESEARCH_TOKEN"), "bearer token")
	chatID := flag.String("chat", "", "existing chat ID (a new chat is created when empty)")
	query := flag.String("query", "", "research query to submit")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "a bearer token is required (-token or RESEARCH_TOKEN)")
		os.Exit(1)
	}
	if *query == "" {
		fmt.Fprintln(os.Stderr, "a query is required (-query)")
		os.Exit(1)
	}

	api := &apiClient{
		base:   strings.TrimRight(*apiBase, "/"),
		token:  *token,
		client: &http.Client{Timeout: 15 * time.Second},
	}

	id := *chatID
	if id == "" {
		chat, err := api.createChat()
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to create chat:", err)
			os.Exit(1)
		}
		id = chat.ID
		fmt.Println("chat:", id)
	}

	conn, err := dialEvents(api.base, *token)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to connect websocket:", err)
		os.Exit(1)
	}
	defer conn.Close()

	appLogger := logger.New(logger.Config{Format: "text"})
	dispatcher := session.NewDispatcher(nil, api, appLogger)
	dispatcher.SetActiveChat(id)

	if err := api.postMessage(id, *query); err != nil {
		fmt.Fprintln(os.Stderr, "failed to post message:", err)
		os.Exit(1)
	}

	for {
		var event events.AgentUpdate
		if err := conn.ReadJSON(&event); err != nil {
			fmt.Fprintln(os.Stderr, "connection closed:", err)
			os.Exit(1)
		}

		dispatcher.Handle(&event)
		view := dispatcher.View()
		if view == nil {
			continue
		}

		render(view)

		switch view.Status {
		case session.StatusCompleted:
			fmt.Println()
			renderReport(view.Report())
			return
		case session.StatusError:
			fmt.Fprintln(os.Stderr, "\nresearch failed:", view.Message)
			os.Exit(1)
		}
	}
}

// render prints a one-line progress summary for the current view state.
func render(view *session.View) {
	step := ""
	if view.CurrentStepIndex >= 0 && view.CurrentStepIndex < len(view.Plan) {
		step = fmt.Sprintf(" [%d/%d %s]",
			view.CurrentStepIndex+1, len(view.Plan), view.Plan[view.CurrentStepIndex].Title)
	}
	fmt.Printf("\r\033[K%s%s  sources:%d  report:%dB",
		view.Message, step, len(view.Sources), len(view.Report()))
}

// renderReport parses the final buffer and prints it section by section.
func renderReport(buffer string) {
	for _, section := range report.Parse(buffer) {
		if section.Title != "" {
			fmt.Println("##", section.Title)
		}
		for _, part := range section.Parts {
			switch part.Type {
			case report.PartCode:
				fmt.Println("```")
				fmt.Println(part.Text)
				fmt.Println("```")
			case report.PartImage:
				fmt.Printf("[image: %s] %s\n", part.URL, part.Caption)
			default:
				fmt.Println(part.Text)
			}
		}
		for _, source := range section.Sources {
			fmt.Printf("- %s (%s)\n", source.Title, source.URL)
		}
		fmt.Println()
	}
}

// dialEvents opens the websocket, passing the token as a query parameter
// the way browsers do.
func dialEvents(apiBase, token string) (*websocket.Conn, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = "token=" + url.QueryEscape(token)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	return conn, err
}

type apiClient struct {
	base   string
	token  string
	client *http.Client
}

func (a *apiClient) createChat() (*pg.Chat, error) {
	chat := &pg.Chat{}
	if err := a.post("/api/v1/chats", map[string]string{}, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func (a *apiClient) postMessage(chatID, content string) error {
	path := fmt.Sprintf("/api/v1/chats/%s/messages", chatID)
	return a.post(path, map[string]string{"content": content}, nil)
}

// SetChatTitle applies a worker-generated title. Satisfies the dispatcher's
// titler dependency.
func (a *apiClient) SetChatTitle(chatID, title string) error {
	path := fmt.Sprintf("/api/v1/chats/%s", chatID)
	return a.patch(path, map[string]string{"title": title})
}

func (a *apiClient) post(path string, body interface{}, out interface{}) error {
	return a.do(http.MethodPost, path, body, out)
}

func (a *apiClient) patch(path string, body interface{}) error {
	return a.do(http.MethodPatch, path, body, nil)
}

func (a *apiClient) do(method, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(method, a.base+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
