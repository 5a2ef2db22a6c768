package events

// Event kinds carried on the real-time channel.
const (
	TypeAgentUpdate = "agent_update"
	TypeAgentError  = "agent_error"
)

// Coarse agent status values.
const (
	StatusThinking = "thinking"
	StatusAction   = "action"
	StatusOutput   = "output"
)

// Typed event_type discriminants inside the payload data bag.
const (
	EventPlanCreated     = "plan_created"
	EventResearchStarted = "research_started"
	EventToolStart       = "tool_start"
	EventSourceFound     = "source_found"
	EventReportChunk     = "report_chunk"
	EventTitleGenerated  = "title_generated"
	EventCompleted       = "completed"
)

// EventData is the event-specific data bag. Only the fields relevant to the
// event_type are set; clients must tolerate missing fields and lazily
// initialize local research state on first sight of a request ID.
type EventData struct {
	RequestID     string   `json:"requestId,omitempty"`
	ChatID        string   `json:"chatId,omitempty"`
	EventType     string   `json:"event_type,omitempty"`
	TOC           []string `json:"toc,omitempty"`
	SectionIndex  *int     `json:"section_index,omitempty"`
	Topic         string   `json:"topic,omitempty"`
	Tool          string   `json:"tool,omitempty"`
	Query         string   `json:"query,omitempty"`
	Title         string   `json:"title,omitempty"`
	URL           string   `json:"url,omitempty"`
	Chunk         string   `json:"chunk,omitempty"`
	ChunkIndex    *int     `json:"chunk_index,omitempty"`
	ReportPreview string   `json:"report_preview,omitempty"`
}

// UpdatePayload is the nested payload of an AgentUpdate.
type UpdatePayload struct {
	Agent   string    `json:"agent,omitempty"`
	Status  string    `json:"status,omitempty"`
	Message string    `json:"message,omitempty"`
	Data    EventData `json:"data"`
}

// AgentUpdate is the server-to-client event envelope. Workers publish these
// on NATS; every server instance fans them out to the target user's live
// connections.
type AgentUpdate struct {
	TargetUserID string        `json:"target_user_id"`
	Type         string        `json:"type"`
	Payload      UpdatePayload `json:"payload"`
}
