// Package bot is the Telegram front-end: command handlers, inline
// keyboards and access control.
package bot

import (
	"context"
	"io"
	"time"

	"github.com/mdouchement/logger"
	tele "gopkg.in/telebot.v3"

	"github.com/dmytros/cursorbot/internal/cursor"
)

// Store is the per-user state the handlers need.
type Store interface {
	SelectedRepository(userID int64) (string, error)
	SetSelectedRepository(userID int64, repositoryURL string) error
	LastAgentID(userID int64) (string, error)
	SetLastAgentID(userID int64, agentID string) error
	ClearLastAgentID(userID int64) error
	FavoriteRepositories(userID int64) ([]string, error)
	AddFavorite(userID int64, repositoryURL string) error
	RemoveFavorite(userID int64, repositoryURL string) error
	IsFavorite(userID int64, repositoryURL string) (bool, error)
}

// AgentAPI is the subset of the Cursor client the handlers use directly.
type AgentAPI interface {
	Repositories(ctx context.Context) ([]cursor.Repository, error)
	Agents(ctx context.Context, limit int) ([]cursor.Agent, error)
	AgentStatus(ctx context.Context, agentID string) (cursor.Run, error)
	Conversation(ctx context.Context, agentID string) ([]cursor.Message, error)
	AddFollowup(ctx context.Context, agentID, text string) error
	WaitAgent(ctx context.Context, agentID string, opts cursor.WaitOptions) (cursor.Run, error)
}

// TaskRunner executes the plan/ask/solve operations.
type TaskRunner interface {
	RunPlan(ctx context.Context, text, repositoryURL string, onStatus cursor.StatusFunc) (string, string, error)
	RunAsk(ctx context.Context, text, repositoryURL string, nonTechnical bool, onStatus cursor.StatusFunc) (string, string, error)
	RunSolve(ctx context.Context, text, repositoryURL string, onStatus cursor.StatusFunc) (string, string, error)
}

type Config struct {
	Token   string
	OwnerID int64

	WaitTimeout  time.Duration
	PollInterval time.Duration
}

type Bot struct {
	api    *tele.Bot
	store  Store
	client AgentAPI
	tasks  TaskRunner
	cfg    Config
	log    logger.Logger

	// download fetches a Telegram file. Defaults to the API call.
	download func(*tele.File) (io.ReadCloser, error)
}

// Inline keyboard callbacks. Repository buttons carry the 1-based entry
// number in the repository list; agent buttons carry the agent ID.
var (
	btnSelectRepo  = tele.Btn{Unique: "select_repo"}
	btnFavRepo     = tele.Btn{Unique: "fav_repo"}
	btnSelectAgent = tele.Btn{Unique: "select_agent"}
)

func New(cfg Config, st Store, client AgentAPI, tasks TaskRunner, log logger.Logger) (*Bot, error) {
	pref := tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			log.Errorf("Handler error: %v", err)
		},
	}

	api, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}

	bot := &Bot{api: api, store: st, client: client, tasks: tasks, cfg: cfg, log: log}
	bot.download = api.File
	bot.register()
	return bot, nil
}

// Username returns the bot account name.
func (b *Bot) Username() string {
	return b.api.Me.Username
}

// Start registers the command list with Telegram and blocks polling for
// updates until Stop is called.
func (b *Bot) Start() {
	if err := b.api.SetCommands(commands); err != nil {
		b.log.Warnf("Failed to register commands: %v", err)
	}
	b.api.Start()
}

func (b *Bot) Stop() {
	b.api.Stop()
}

var commands = []tele.Command{
	{Text: "start", Description: "Почати роботу з ботом"},
	{Text: "help", Description: "Показати довідку"},
	{Text: "repos", Description: "Показати список репозиторіїв"},
	{Text: "favrepos", Description: "Показати улюблені репозиторії"},
	{Text: "setrepo", Description: "Вибрати репозиторій для роботи"},
	{Text: "plan", Description: "Отримати план рішення задачі"},
	{Text: "ask", Description: "Отримати уточнюючі питання"},
	{Text: "solve", Description: "Згенерувати код для задачі"},
	{Text: "agents", Description: "Показати список активних агентів"},
}

func (b *Bot) register() {
	b.api.Use(b.restrictAccess)

	b.api.Handle("/start", b.handleStart)
	b.api.Handle("/help", b.handleHelp)
	b.api.Handle("/repos", b.handleRepos)
	b.api.Handle("/favrepos", b.handleFavRepos)
	b.api.Handle("/setrepo", b.handleSetRepo)
	b.api.Handle("/plan", b.handlePlan)
	b.api.Handle("/ask", b.handleAsk)
	b.api.Handle("/solve", b.handleSolve)
	b.api.Handle("/agents", b.handleAgents)

	b.api.Handle(&btnSelectRepo, b.handleRepoSelect)
	b.api.Handle(&btnFavRepo, b.handleFavToggle)
	b.api.Handle(&btnSelectAgent, b.handleAgentSelect)

	// Plain text and photos are follow-ups in private chats; in groups,
	// text is only handled when the bot is mentioned.
	b.api.Handle(tele.OnText, b.handleText)
	b.api.Handle(tele.OnPhoto, b.handlePhoto)
}

// taskContext caps a full create-and-wait cycle. The margin on top of the
// wait timeout covers agent creation and the final conversation fetch.
func (b *Bot) taskContext() (context.Context, context.CancelFunc) {
	timeout := b.cfg.WaitTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout+60*time.Second)
}

func (b *Bot) sendMarkdown(c tele.Context, text string, extra ...interface{}) error {
	opts := append([]interface{}{&tele.SendOptions{ParseMode: tele.ModeMarkdown}}, extra...)
	return c.Send(text, opts...)
}

// status sends a progress message, never failing the main flow.
func (b *Bot) status(c tele.Context, text string) {
	if err := c.Send(text); err != nil {
		b.log.Warnf("Failed to send status update: %v", err)
	}
}
