package cursor

// Status is the normalized lifecycle state of a cloud agent.
type Status string

const (
	StatusCreating  Status = "creating"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Mode selects the instruction prepended to an agent's prompt.
type Mode string

const (
	ModePlan  Mode = "plan"
	ModeAsk   Mode = "ask"
	ModeSolve Mode = "code_generate"
)

func (m Mode) instruction() string {
	switch m {
	case ModePlan:
		return "Створи план рішення для наступної задачі:"
	case ModeAsk:
		return "Сформулюй уточнюючі питання для наступної задачі:"
	case ModeSolve:
		return "Створи код для наступної задачі:"
	}
	return ""
}

// Repository as returned by GET /repositories.
type Repository struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
	URL   string `json:"repository"`
}

// Agent as returned by GET /agents. Status is the raw API value
// (upper-case: CREATING, RUNNING, FINISHED, ...).
type Agent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Run is the normalized view of an agent's current state.
type Run struct {
	ID     string
	Status Status
	Output string
	Error  string
}

// Message is a single conversation entry. Type is either
// "user_message" or "assistant_message".
type Message struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type promptPayload struct {
	Text string `json:"text"`
}

type sourcePayload struct {
	Repository string `json:"repository"`
}

type createAgentRequest struct {
	Prompt promptPayload `json:"prompt"`
	Source sourcePayload `json:"source"`
}

type followupRequest struct {
	Prompt promptPayload `json:"prompt"`
}

type repositoriesResponse struct {
	Repositories []Repository `json:"repositories"`
}

type agentsResponse struct {
	Agents []Agent `json:"agents"`
}

type agentResponse struct {
	ID           string `json:"id"`
	AgentID      string `json:"agentId"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	Summary      string `json:"summary"`
	Error        string `json:"error"`
	ErrorMessage string `json:"errorMessage"`
}

type conversationResponse struct {
	Messages []Message `json:"messages"`
}
