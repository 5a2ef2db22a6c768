package pg

import (
	"encoding/json"
	"time"
)

// Research request status values. Status only moves PENDING -> COMPLETED,
// or back to PENDING on an explicit retry.
const (
	RequestStatusPending   = "PENDING"
	RequestStatusCompleted = "COMPLETED"
)

// Chat is a conversation owned by a user.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is a single chat message. UserID is nil for worker-authored
// messages posted through the gateway.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	UserID    *string   `json:"userId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ResearchRequest tracks one async research task triggered by a user message.
type ResearchRequest struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// ResearchResult is one worker-submitted result payload. A request keeps
// every submission for audit; the latest wins for display.
type ResearchResult struct {
	ID                string          `json:"id"`
	ResearchRequestID string          `json:"researchRequestId"`
	Content           json.RawMessage `json:"content"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// MessageWithResearch is a message joined with its research request and the
// latest result, as returned by message listing.
type MessageWithResearch struct {
	Message
	Request *ResearchRequest `json:"researchRequest,omitempty"`
	Result  *ResearchResult  `json:"researchResult,omitempty"`
}

// DispatchInfo carries everything needed to rebuild a queue task for an
// existing research request.
type DispatchInfo struct {
	RequestID string
	MessageID string
	ChatID    string
	UserID    string
	Query     string
	CreatedAt time.Time
}
