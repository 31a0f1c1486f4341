package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"github.com/dmytros/cursorbot/internal/cursor"
)

// MockContext overrides the telebot context pieces the handlers touch.
type MockContext struct {
	tele.Context
	Msg         *tele.Message
	ChatVal     *tele.Chat
	SenderVal   *tele.User
	CallbackVal *tele.Callback

	Sent      []string
	Responded bool
}

func (m *MockContext) Message() *tele.Message { return m.Msg }

func (m *MockContext) Chat() *tele.Chat {
	if m.ChatVal != nil {
		return m.ChatVal
	}
	return &tele.Chat{ID: 1, Type: tele.ChatPrivate}
}

func (m *MockContext) Sender() *tele.User {
	if m.SenderVal != nil {
		return m.SenderVal
	}
	return &tele.User{ID: 1}
}

func (m *MockContext) Callback() *tele.Callback { return m.CallbackVal }

func (m *MockContext) Data() string {
	if m.CallbackVal != nil {
		return m.CallbackVal.Data
	}
	return ""
}

func (m *MockContext) Text() string {
	if m.Msg != nil {
		return m.Msg.Text
	}
	return ""
}

func (m *MockContext) Send(what interface{}, opts ...interface{}) error {
	if s, ok := what.(string); ok {
		m.Sent = append(m.Sent, s)
	}
	return nil
}

func (m *MockContext) Notify(action tele.ChatAction) error { return nil }

func (m *MockContext) Respond(resp ...*tele.CallbackResponse) error {
	m.Responded = true
	return nil
}

func (m *MockContext) lastSent() string {
	if len(m.Sent) == 0 {
		return ""
	}
	return m.Sent[len(m.Sent)-1]
}

func (m *MockContext) allSent() string { return strings.Join(m.Sent, "\n---\n") }

//

type fakeStore struct {
	selected map[int64]string
	bound    map[int64]string
	favs     map[int64]map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		selected: map[int64]string{},
		bound:    map[int64]string{},
		favs:     map[int64]map[string]bool{},
	}
}

func (f *fakeStore) SelectedRepository(userID int64) (string, error) { return f.selected[userID], nil }
func (f *fakeStore) SetSelectedRepository(userID int64, url string) error {
	f.selected[userID] = url
	return nil
}
func (f *fakeStore) LastAgentID(userID int64) (string, error) { return f.bound[userID], nil }
func (f *fakeStore) SetLastAgentID(userID int64, agentID string) error {
	f.bound[userID] = agentID
	return nil
}
func (f *fakeStore) ClearLastAgentID(userID int64) error {
	delete(f.bound, userID)
	return nil
}
func (f *fakeStore) FavoriteRepositories(userID int64) ([]string, error) {
	var repos []string
	for url := range f.favs[userID] {
		repos = append(repos, url)
	}
	return repos, nil
}
func (f *fakeStore) AddFavorite(userID int64, url string) error {
	if f.favs[userID] == nil {
		f.favs[userID] = map[string]bool{}
	}
	f.favs[userID][url] = true
	return nil
}
func (f *fakeStore) RemoveFavorite(userID int64, url string) error {
	delete(f.favs[userID], url)
	return nil
}
func (f *fakeStore) IsFavorite(userID int64, url string) (bool, error) {
	return f.favs[userID][url], nil
}

//

type fakeAPI struct {
	repos    []cursor.Repository
	reposErr error

	agents    []cursor.Agent
	agentsErr error

	status    cursor.Run
	statusErr error

	followupErr  error
	followupText string

	waitRun cursor.Run
	waitErr error

	messages []cursor.Message
	convErr  error
}

func (f *fakeAPI) Repositories(ctx context.Context) ([]cursor.Repository, error) {
	return f.repos, f.reposErr
}
func (f *fakeAPI) Agents(ctx context.Context, limit int) ([]cursor.Agent, error) {
	return f.agents, f.agentsErr
}
func (f *fakeAPI) AgentStatus(ctx context.Context, agentID string) (cursor.Run, error) {
	return f.status, f.statusErr
}
func (f *fakeAPI) Conversation(ctx context.Context, agentID string) ([]cursor.Message, error) {
	return f.messages, f.convErr
}
func (f *fakeAPI) AddFollowup(ctx context.Context, agentID, text string) error {
	f.followupText = text
	return f.followupErr
}
func (f *fakeAPI) WaitAgent(ctx context.Context, agentID string, opts cursor.WaitOptions) (cursor.Run, error) {
	return f.waitRun, f.waitErr
}

//

type fakeTasks struct {
	agentID string
	result  string
	err     error

	lastText     string
	lastRepo     string
	nonTechnical bool
}

func (f *fakeTasks) RunPlan(ctx context.Context, text, repo string, onStatus cursor.StatusFunc) (string, string, error) {
	f.lastText, f.lastRepo = text, repo
	return f.agentID, f.result, f.err
}
func (f *fakeTasks) RunAsk(ctx context.Context, text, repo string, nonTechnical bool, onStatus cursor.StatusFunc) (string, string, error) {
	f.lastText, f.lastRepo, f.nonTechnical = text, repo, nonTechnical
	return f.agentID, f.result, f.err
}
func (f *fakeTasks) RunSolve(ctx context.Context, text, repo string, onStatus cursor.StatusFunc) (string, string, error) {
	f.lastText, f.lastRepo = text, repo
	return f.agentID, f.result, f.err
}

//

func testLogger() logger.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logger.WrapLogrus(l)
}

func newTestBot(st Store, api AgentAPI, tasks TaskRunner) *Bot {
	return &Bot{
		api:    &tele.Bot{Me: &tele.User{Username: "cursor_test_bot"}},
		store:  st,
		client: api,
		tasks:  tasks,
		cfg:    Config{OwnerID: 1, WaitTimeout: time.Second, PollInterval: time.Millisecond},
		log:    testLogger(),
	}
}

func groupChat() *tele.Chat { return &tele.Chat{ID: -100, Type: tele.ChatGroup} }

//

func TestHandleStart(t *testing.T) {
	b := newTestBot(newFakeStore(), &fakeAPI{}, &fakeTasks{})
	ctx := &MockContext{}

	require.NoError(t, b.handleStart(ctx))
	assert.Contains(t, ctx.lastSent(), "Доступні команди")
}

func TestHandlePlanRequiresText(t *testing.T) {
	b := newTestBot(newFakeStore(), &fakeAPI{}, &fakeTasks{})
	ctx := &MockContext{Msg: &tele.Message{Payload: ""}}

	require.NoError(t, b.handlePlan(ctx))
	assert.Contains(t, ctx.lastSent(), "вкажіть задачу після команди /plan")
}

func TestHandlePlanRefusedInGroups(t *testing.T) {
	b := newTestBot(newFakeStore(), &fakeAPI{}, &fakeTasks{})
	ctx := &MockContext{Msg: &tele.Message{Payload: "задача"}, ChatVal: groupChat()}

	require.NoError(t, b.handlePlan(ctx))
	assert.Contains(t, ctx.lastSent(), "доступний тільки режим")
}

func TestHandlePlanRunsTaskAndBindsAgent(t *testing.T) {
	st := newFakeStore()
	st.selected[1] = "https://github.com/acme/app"
	tasks := &fakeTasks{agentID: "agent-1", result: "📋 **План рішення:**\n\n1. Крок"}
	b := newTestBot(st, &fakeAPI{}, tasks)

	ctx := &MockContext{Msg: &tele.Message{Payload: "зроби кнопку"}}
	require.NoError(t, b.handlePlan(ctx))

	assert.Equal(t, "зроби кнопку", tasks.lastText)
	assert.Equal(t, "https://github.com/acme/app", tasks.lastRepo)
	assert.Equal(t, "agent-1", st.bound[1])
	assert.Contains(t, ctx.lastSent(), "План рішення")
}

func TestHandleAskIsNonTechnicalInGroups(t *testing.T) {
	tasks := &fakeTasks{agentID: "agent-1", result: "❓ питання"}
	b := newTestBot(newFakeStore(), &fakeAPI{}, tasks)

	ctx := &MockContext{Msg: &tele.Message{Payload: "питання"}, ChatVal: groupChat()}
	require.NoError(t, b.handleAsk(ctx))
	assert.True(t, tasks.nonTechnical)

	ctx = &MockContext{Msg: &tele.Message{Payload: "питання"}}
	require.NoError(t, b.handleAsk(ctx))
	assert.False(t, tasks.nonTechnical)
}

func TestRunTaskTimeoutReply(t *testing.T) {
	tasks := &fakeTasks{err: errors.Wrap(cursor.ErrWaitTimeout, "агент a1")}
	b := newTestBot(newFakeStore(), &fakeAPI{}, tasks)

	ctx := &MockContext{Msg: &tele.Message{Payload: "задача"}}
	require.NoError(t, b.handleSolve(ctx))
	assert.Contains(t, ctx.lastSent(), "занадто багато часу")
}

func TestRunTaskAPIErrorIsStripped(t *testing.T) {
	tasks := &fakeTasks{err: &cursor.APIError{Message: "bad `markdown` **here**", StatusCode: 500}}
	b := newTestBot(newFakeStore(), &fakeAPI{}, tasks)

	ctx := &MockContext{Msg: &tele.Message{Payload: "задача"}}
	require.NoError(t, b.handleSolve(ctx))
	assert.Contains(t, ctx.lastSent(), "bad markdown here")
	assert.NotContains(t, ctx.lastSent(), "`")
}

func TestHandleSetRepo(t *testing.T) {
	api := &fakeAPI{repos: []cursor.Repository{
		{Owner: "acme", Name: "app", URL: "https://github.com/acme/app"},
		{Owner: "acme", Name: "web", URL: "https://github.com/acme/web"},
	}}
	st := newFakeStore()
	b := newTestBot(st, api, &fakeTasks{})

	t.Run("usage without payload", func(t *testing.T) {
		ctx := &MockContext{Msg: &tele.Message{Payload: ""}}
		require.NoError(t, b.handleSetRepo(ctx))
		assert.Contains(t, ctx.lastSent(), "вкажіть номер репозиторію")
	})

	t.Run("not a number", func(t *testing.T) {
		ctx := &MockContext{Msg: &tele.Message{Payload: "abc"}}
		require.NoError(t, b.handleSetRepo(ctx))
		assert.Contains(t, ctx.lastSent(), "вкажіть номер репозиторію")
	})

	t.Run("out of range", func(t *testing.T) {
		ctx := &MockContext{Msg: &tele.Message{Payload: "5"}}
		require.NoError(t, b.handleSetRepo(ctx))
		assert.Contains(t, ctx.lastSent(), "Невірний номер")
	})

	t.Run("selects by number", func(t *testing.T) {
		ctx := &MockContext{Msg: &tele.Message{Payload: "2"}}
		require.NoError(t, b.handleSetRepo(ctx))
		assert.Equal(t, "https://github.com/acme/web", st.selected[1])
		assert.Contains(t, ctx.lastSent(), "Репозиторій вибрано")
		assert.Contains(t, ctx.lastSent(), "acme/web")
	})
}

func TestHandleReposEmpty(t *testing.T) {
	b := newTestBot(newFakeStore(), &fakeAPI{}, &fakeTasks{})
	ctx := &MockContext{Msg: &tele.Message{}}

	require.NoError(t, b.handleRepos(ctx))
	assert.Contains(t, ctx.lastSent(), "Не знайдено доступних репозиторіїв")
}

func TestHandleReposRateLimitKeepsMarkdown(t *testing.T) {
	api := &fakeAPI{reposErr: &cursor.APIError{StatusCode: 429, Message: "⏱ Перевищено ліміт запитів до API."}}
	b := newTestBot(newFakeStore(), api, &fakeTasks{})
	ctx := &MockContext{Msg: &tele.Message{}}

	require.NoError(t, b.handleRepos(ctx))
	assert.Contains(t, ctx.lastSent(), "Перевищено ліміт запитів")
}

func TestHandleAgentsFiltersTerminalStates(t *testing.T) {
	api := &fakeAPI{agents: []cursor.Agent{
		{ID: "a1", Name: "перший", Status: "RUNNING"},
		{ID: "a2", Name: "другий", Status: "EXPIRED"},
		{ID: "a3", Name: "третій", Status: "FINISHED"},
	}}
	b := newTestBot(newFakeStore(), api, &fakeTasks{})
	ctx := &MockContext{Msg: &tele.Message{}}

	require.NoError(t, b.handleAgents(ctx))
	out := ctx.lastSent()
	assert.Contains(t, out, "перший")
	assert.Contains(t, out, "третій")
	assert.NotContains(t, out, "другий")
}

func TestHandleAgentsEmpty(t *testing.T) {
	b := newTestBot(newFakeStore(), &fakeAPI{}, &fakeTasks{})
	ctx := &MockContext{Msg: &tele.Message{}}

	require.NoError(t, b.handleAgents(ctx))
	assert.Contains(t, ctx.lastSent(), "Активних агентів не знайдено")
}
