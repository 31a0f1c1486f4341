// Package cursor implements the client side of the Cursor Cloud Agent API:
// agent creation, status polling, conversations and follow-ups.
package cursor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
	resty "resty.dev/v3"
)

const (
	requestTimeout = 30 * time.Second

	// The /repositories endpoint is rate limited to 1 request per minute.
	repoCacheTTL = 60 * time.Second

	defaultWaitTimeout    = 300 * time.Second
	defaultPollInterval   = 5 * time.Second
	statusUpdateInterval  = 10 * time.Second
	completedNudgePeriod  = 15 * time.Second
	agentsListLimitCeil   = 100
	agentsListLimitNormal = 20
)

// Client talks to the Cursor Cloud Agent API.
type Client struct {
	base        string
	defaultRepo string
	http        *resty.Client
	log         logger.Logger

	mu          sync.Mutex
	repoCache   []Repository
	repoCacheAt time.Time
	repoTTL     time.Duration
}

// NewClient returns a client authenticated with apiKey. The API uses Basic
// auth with the key as username and an empty password. defaultRepo is used
// when agent creation has no repository and none can be listed.
func NewClient(apiKey, baseURL, defaultRepo string, log logger.Logger) *Client {
	base := strings.TrimRight(baseURL, "/")
	auth := base64.StdEncoding.EncodeToString([]byte(apiKey + ":"))

	httpc := resty.New().
		SetBaseURL(base).
		SetHeader("Authorization", "Basic "+auth).
		SetHeader("Content-Type", "application/json").
		SetTimeout(requestTimeout)

	log.Infof("Initialized Cursor client with base URL: %s", base)

	return &Client{
		base:        base,
		defaultRepo: defaultRepo,
		http:        httpc,
		log:         log,
		repoTTL:     repoCacheTTL,
	}
}

// Close releases the underlying HTTP client resources.
func (c *Client) Close() {
	c.http.Close()
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-Id", uuid.Must(uuid.NewV4()).String())
}

// Repositories lists the repositories reachable through the Cursor GitHub
// App. Results are cached for the rate-limit window; on HTTP 429 or a
// network failure a stale cache entry is served when available.
func (c *Client) Repositories(ctx context.Context) ([]Repository, error) {
	c.mu.Lock()
	if c.repoCache != nil && time.Since(c.repoCacheAt) < c.repoTTL {
		repos := c.repoCache
		c.mu.Unlock()
		c.log.Debugf("Using cached repositories (age: %s)", time.Since(c.repoCacheAt))
		return repos, nil
	}
	c.mu.Unlock()

	res, err := c.request(ctx).
		SetResult(&repositoriesResponse{}).
		Get("/repositories")
	if err != nil {
		if repos, ok := c.staleRepositories(); ok {
			c.log.Warnf("Network error, using cached repositories: %v", err)
			return repos, nil
		}
		return nil, networkError(err, c.base+"/repositories")
	}

	if res.IsError() {
		body := res.String()
		if res.StatusCode() == 429 || strings.Contains(strings.ToLower(body), "rate limit") {
			if repos, ok := c.staleRepositories(); ok {
				c.log.Warnf("Rate limit exceeded, using cached repositories")
				return repos, nil
			}
			c.log.Errorf("Rate limit exceeded: %s", body)
			return nil, &APIError{
				StatusCode: 429,
				Message: "⏱ Перевищено ліміт запитів до API.\n\n" +
					"API Cursor дозволяє лише 1 запит на хвилину для цього endpoint.\n\n" +
					"Спробуйте:\n" +
					"- Зачекати хвилину та повторити запит\n" +
					"- Використати вже вибраний репозиторій",
			}
		}
		return nil, &APIError{
			StatusCode: res.StatusCode(),
			Message:    fmt.Sprintf("Не вдалося отримати список репозиторіїв: %s", body),
		}
	}

	repos := res.Result().(*repositoriesResponse).Repositories
	c.log.Infof("Found %d available repositories", len(repos))

	c.mu.Lock()
	c.repoCache = repos
	c.repoCacheAt = time.Now()
	c.mu.Unlock()

	return repos, nil
}

func (c *Client) staleRepositories() ([]Repository, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.repoCache == nil {
		return nil, false
	}
	return c.repoCache, true
}

// Agents lists cloud agents for the authenticated user. limit is clamped
// to the API maximum of 100.
func (c *Client) Agents(ctx context.Context, limit int) ([]Agent, error) {
	if limit <= 0 {
		limit = agentsListLimitNormal
	}
	if limit > agentsListLimitCeil {
		limit = agentsListLimitCeil
	}

	res, err := c.request(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&agentsResponse{}).
		Get("/agents")
	if err != nil {
		return nil, networkError(err, c.base+"/agents")
	}
	if res.IsError() {
		return nil, &APIError{
			StatusCode: res.StatusCode(),
			Message:    fmt.Sprintf("Не вдалося отримати список агентів: %s", res.String()),
		}
	}

	agents := res.Result().(*agentsResponse).Agents
	c.log.Infof("Found %d agents", len(agents))
	return agents, nil
}

// CreateAgent starts a new cloud agent working on text in repositoryURL.
// An empty repositoryURL picks the first available repository, falling
// back to the configured default. mode prepends its instruction line to
// the prompt.
func (c *Client) CreateAgent(ctx context.Context, text, repositoryURL string, mode Mode) (Agent, error) {
	if repositoryURL == "" {
		repositoryURL = c.pickRepository(ctx)
	}

	prompt := text
	if instruction := mode.instruction(); instruction != "" {
		prompt = instruction + "\n\n" + text
	}

	c.log.Infof("Creating agent task: %s...", truncate(text, 50))

	res, err := c.request(ctx).
		SetBody(createAgentRequest{
			Prompt: promptPayload{Text: prompt},
			Source: sourcePayload{Repository: repositoryURL},
		}).
		SetResult(&agentResponse{}).
		Post("/agents")
	if err != nil {
		return Agent{}, networkError(err, c.base+"/agents")
	}

	if res.IsError() {
		body := res.String()
		var message string
		switch {
		case res.StatusCode() == 400 && strings.Contains(body, "validate access to repository"):
			message = "Не вдалося отримати доступ до репозиторію.\n\n" +
				"Перевірте:\n" +
				"- Правильність CURSOR_REPOSITORY_URL в налаштуваннях\n" +
				"- Чи встановлений Cursor GitHub App для цього репозиторію\n\n" +
				"Поточний репозиторій: " + repositoryURL
		case res.StatusCode() == 404:
			message = fmt.Sprintf("Endpoint не знайдено (404).\n\nСпробований URL: %s/agents\nВідповідь сервера: %s", c.base, body)
		default:
			message = fmt.Sprintf("Помилка при створенні задачі: %s", body)
		}
		c.log.Errorf("%s (Status: %d)", message, res.StatusCode())
		return Agent{}, &APIError{Message: message, StatusCode: res.StatusCode()}
	}

	data := res.Result().(*agentResponse)
	id := data.ID
	if id == "" {
		id = data.AgentID
	}
	if id == "" {
		id = "unknown"
	}
	c.log.Infof("Agent %s created successfully", id)

	return Agent{ID: id, Name: truncate(text, 50), Status: data.Status}, nil
}

func (c *Client) pickRepository(ctx context.Context) string {
	repos, err := c.Repositories(ctx)
	if err != nil || len(repos) == 0 {
		c.log.Warnf("No repositories available, using default: %s", c.defaultRepo)
		return c.defaultRepo
	}
	c.log.Infof("Using first available repository: %s", repos[0].URL)
	return repos[0].URL
}

// AgentStatus fetches the agent's state. For a finished agent the output
// is assembled from the conversation's assistant messages, falling back
// to the summary field when the conversation cannot be fetched.
func (c *Client) AgentStatus(ctx context.Context, agentID string) (Run, error) {
	res, err := c.request(ctx).
		SetResult(&agentResponse{}).
		Get("/agents/" + agentID)
	if err != nil {
		return Run{}, networkError(err, c.base+"/agents/"+agentID)
	}
	if res.IsError() {
		message := fmt.Sprintf("Не вдалося отримати статус агента: %s", res.String())
		if res.StatusCode() == 404 {
			message = fmt.Sprintf("Агент не знайдено (404).\nСпробований URL: %s/agents/%s", c.base, agentID)
		}
		return Run{}, &APIError{Message: message, StatusCode: res.StatusCode()}
	}

	data := res.Result().(*agentResponse)
	status := c.mapStatus(agentID, data.Status)

	var output string
	if status == StatusCompleted {
		messages, err := c.Conversation(ctx, agentID)
		if err != nil {
			c.log.Warnf("Failed to get conversation for agent %s: %v", agentID, err)
			output = data.Summary
		} else {
			output = joinAssistantMessages(messages)
		}
	}

	errmsg := data.Error
	if errmsg == "" {
		errmsg = data.ErrorMessage
	}

	return Run{ID: agentID, Status: status, Output: output, Error: errmsg}, nil
}

func (c *Client) mapStatus(agentID, raw string) Status {
	switch strings.ToUpper(raw) {
	case "FINISHED":
		return StatusCompleted
	case "FAILED", "ERROR", "FAILURE":
		return StatusFailed
	case "EXPIRED":
		return StatusExpired
	case "CREATING":
		return StatusCreating
	case "RUNNING":
		return StatusRunning
	}
	c.log.Warnf("Unknown status %q for agent %s, defaulting to running", raw, agentID)
	return StatusRunning
}

// Conversation returns the agent's message history.
func (c *Client) Conversation(ctx context.Context, agentID string) ([]Message, error) {
	res, err := c.request(ctx).
		SetResult(&conversationResponse{}).
		Get("/agents/" + agentID + "/conversation")
	if err != nil {
		return nil, networkError(err, c.base+"/agents/"+agentID+"/conversation")
	}
	if res.IsError() {
		message := fmt.Sprintf("Не вдалося отримати історію розмови: %s", res.String())
		if res.StatusCode() == 404 {
			message = fmt.Sprintf("Агент або його розмова не знайдена (404): %s", agentID)
		}
		return nil, &APIError{Message: message, StatusCode: res.StatusCode()}
	}

	return res.Result().(*conversationResponse).Messages, nil
}

// AddFollowup appends an instruction to a live agent. A 409 means the
// agent expired or was deleted server-side.
func (c *Client) AddFollowup(ctx context.Context, agentID, text string) error {
	c.log.Infof("Adding follow-up to agent %s: %s...", agentID, truncate(text, 50))

	res, err := c.request(ctx).
		SetBody(followupRequest{Prompt: promptPayload{Text: text}}).
		Post("/agents/" + agentID + "/followup")
	if err != nil {
		return networkError(err, c.base+"/agents/"+agentID+"/followup")
	}
	if res.IsError() {
		var message string
		switch res.StatusCode() {
		case 404:
			message = fmt.Sprintf("Агент не знайдено (404): %s", agentID)
		case 409:
			message = "Агент застарів або був видалений і більше не може обробляти запити. " +
				"Створіть нового агента через /plan, /ask або /solve."
			var body struct {
				Error string `json:"error"`
			}
			if json.Unmarshal([]byte(res.String()), &body) == nil && body.Error != "" &&
				!strings.Contains(strings.ToLower(body.Error), "deleted") {
				message = fmt.Sprintf("Не вдалося додати follow-up: %s", body.Error)
			}
		default:
			message = fmt.Sprintf("Не вдалося додати follow-up: %s", res.String())
		}
		c.log.Error(message)
		return &APIError{Message: message, StatusCode: res.StatusCode()}
	}

	c.log.Infof("Follow-up added successfully to agent %s", agentID)
	return nil
}

// StatusFunc receives progress notifications while waiting for an agent.
type StatusFunc func(elapsed time.Duration, status Status)

// WaitOptions tune WaitAgent. Zero values fall back to the defaults
// (300s timeout, 5s poll interval).
type WaitOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration

	// InitialStatus is the agent's status just before a follow-up was
	// sent. When it is StatusCompleted, WaitAgent only accepts a new
	// completed state after observing the agent running again.
	InitialStatus Status

	// OnStatus, when set, is invoked at most every 10 seconds.
	OnStatus StatusFunc
}

// WaitAgent polls the agent until it reaches a terminal state or the
// timeout elapses.
func (c *Client) WaitAgent(ctx context.Context, agentID string, opts WaitOptions) (Run, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	c.log.Infof("Waiting for agent %s to complete (timeout: %s, poll interval: %s)", agentID, timeout, interval)

	start := time.Now()
	var lastCallback time.Duration

	// After a follow-up to an already finished agent we must see it running
	// again before a new FINISHED counts as a fresh answer. While it sits in
	// the old state, the conversation is re-checked for late messages.
	waitingForRestart := opts.InitialStatus == StatusCompleted
	seenRunningAfterFinished := false
	firstCompletedCheckDone := false
	lastCompletedCheck := time.Now()

	for {
		elapsed := time.Since(start)
		if elapsed >= timeout {
			return Run{}, errors.Wrapf(ErrWaitTimeout, "агент %s не завершив роботу протягом %s", agentID, timeout)
		}

		run, err := c.AgentStatus(ctx, agentID)
		if err != nil {
			return Run{}, err
		}

		if opts.OnStatus != nil && elapsed-lastCallback >= statusUpdateInterval {
			opts.OnStatus(elapsed, run.Status)
			lastCallback = elapsed
		}

		if waitingForRestart {
			switch run.Status {
			case StatusCreating, StatusRunning:
				c.log.Debugf("Agent %s started running after follow-up", agentID)
				seenRunningAfterFinished = true
				waitingForRestart = false

			case StatusCompleted:
				check := !firstCompletedCheckDone
				firstCompletedCheckDone = true
				if !check && time.Since(lastCompletedCheck) >= completedNudgePeriod {
					check = true
				}
				if check {
					if output, ok := c.latestAssistantMessage(ctx, agentID); ok {
						return Run{ID: agentID, Status: StatusCompleted, Output: output}, nil
					}
					lastCompletedCheck = time.Now()
				}
				if err := sleep(ctx, interval); err != nil {
					return Run{}, err
				}
				continue
			}
		}

		switch run.Status {
		case StatusCompleted:
			if seenRunningAfterFinished {
				if output, ok := c.latestAssistantMessage(ctx, agentID); ok {
					return Run{ID: agentID, Status: StatusCompleted, Output: output}, nil
				}
			}
			c.log.Infof("Agent %s completed successfully", agentID)
			return run, nil

		case StatusFailed:
			message := run.Error
			if message == "" {
				message = "Агент завершився з помилкою"
			}
			c.log.Errorf("Agent %s failed: %s", agentID, message)
			return run, &APIError{Message: "Агент завершився з помилкою: " + message}

		case StatusExpired:
			c.log.Warnf("Agent %s expired", agentID)
			return run, &APIError{Message: "Агент застарів і більше не може обробляти запити. Створіть нового агента."}
		}

		if err := sleep(ctx, interval); err != nil {
			return Run{}, err
		}
	}
}

func (c *Client) latestAssistantMessage(ctx context.Context, agentID string) (string, bool) {
	messages, err := c.Conversation(ctx, agentID)
	if err != nil {
		c.log.Warnf("Failed to check conversation for agent %s: %v", agentID, err)
		return "", false
	}
	var latest string
	for _, m := range messages {
		if m.Type == "assistant_message" && m.Text != "" {
			latest = m.Text
		}
	}
	return latest, latest != ""
}

func joinAssistantMessages(messages []Message) string {
	var texts []string
	for _, m := range messages {
		if m.Type == "assistant_message" && m.Text != "" {
			texts = append(texts, m.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
