// Package session holds the client-side view of an active research run,
// reconstructed from the stream of agent update events. The view is
// ephemeral: it exists between the first event for a request ID and the
// moment the finished report is committed as a chat message.
package session

import "strings"

// Status is the coarse state of the active research run.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusThinking    Status = "thinking"
	StatusPlanning    Status = "planning"
	StatusResearching Status = "researching"
	StatusWriting     Status = "writing"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// StepStatus is the state of one plan step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

// PlanStep is one entry of the research plan.
type PlanStep struct {
	Index  int        `json:"index"`
	Title  string     `json:"title"`
	Status StepStatus `json:"status"`
}

// Source is a deduplicated cited source.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// View is the reconstructed state of one research run.
type View struct {
	RequestID        string
	Active           bool
	Status           Status
	Message          string
	Plan             []PlanStep
	CurrentStepIndex int
	Queries          []string
	Sources          []Source

	report strings.Builder
}

// NewView creates a fresh view for a request.
func NewView(requestID string) *View {
	return &View{
		RequestID:        requestID,
		Active:           true,
		Status:           StatusThinking,
		Message:          "Initializing...",
		CurrentStepIndex: -1,
		Plan:             []PlanStep{},
		Queries:          []string{},
		Sources:          []Source{},
	}
}

// Report returns the report buffer accumulated so far. This is the string
// the report parser renders live.
func (v *View) Report() string {
	return v.report.String()
}

// SetStatus updates the coarse status and human message.
func (v *View) SetStatus(status Status, message string) {
	v.Status = status
	v.Message = message
}

// SetPlan replaces the plan with one pending step per title.
func (v *View) SetPlan(titles []string) {
	v.Plan = make([]PlanStep, len(titles))
	for i, title := range titles {
		v.Plan[i] = PlanStep{Index: i, Title: title, Status: StepPending}
	}
	v.CurrentStepIndex = 0
	v.Status = StatusPlanning
}

// SetCurrentStep marks steps before index completed and the step at index
// in progress.
func (v *View) SetCurrentStep(index int) {
	for i := range v.Plan {
		if i < index {
			v.Plan[i].Status = StepCompleted
		}
		if i == index {
			v.Plan[i].Status = StepInProgress
		}
	}
	v.CurrentStepIndex = index
	v.Status = StatusResearching
}

// AddQuery appends a search query unless it was already seen.
func (v *View) AddQuery(query string) {
	for _, q := range v.Queries {
		if q == query {
			return
		}
	}
	v.Queries = append(v.Queries, query)
}

// AddSource appends a source unless one with the same URL was already seen.
func (v *View) AddSource(source Source) {
	for _, s := range v.Sources {
		if s.URL == source.URL {
			return
		}
	}
	v.Sources = append(v.Sources, source)
}

// AddReportChunk appends a chunk to the report buffer verbatim.
func (v *View) AddReportChunk(chunk string) {
	v.report.WriteString(chunk)
}

// Complete marks every plan step completed and the run finished. The caller
// is responsible for committing the report buffer as a message.
func (v *View) Complete() {
	for i := range v.Plan {
		v.Plan[i].Status = StepCompleted
	}
	v.Status = StatusCompleted
	v.Message = "Research complete"
}

// SetError marks the run failed. The report buffer is kept so partial
// content stays visible.
func (v *View) SetError(message string) {
	v.Status = StatusError
	v.Message = message
}
