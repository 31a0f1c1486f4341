package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	tele "gopkg.in/telebot.v3"

	"github.com/dmytros/cursorbot/internal/cursor"
)

func (b *Bot) handleStart(c tele.Context) error {
	return b.sendMarkdown(c, welcomeText)
}

func (b *Bot) handleHelp(c tele.Context) error {
	return b.sendMarkdown(c, helpText)
}

func (b *Bot) handlePlan(c tele.Context) error {
	if isGroup(c.Chat()) {
		return b.sendMarkdown(c, groupOnlyAskText)
	}
	text := strings.TrimSpace(c.Message().Payload)
	if text == "" {
		return c.Send("Будь ласка, вкажіть задачу після команди /plan.\n" +
			"Приклад: /plan Створити REST API для управління користувачами")
	}
	return b.runTask(c, text, b.tasks.RunPlan)
}

func (b *Bot) handleAsk(c tele.Context) error {
	text := strings.TrimSpace(c.Message().Payload)
	if text == "" {
		return c.Send("Будь ласка, вкажіть задачу після команди /ask.\n" +
			"Приклад: /ask Як створити мікросервіс на Go?")
	}

	nonTechnical := isGroup(c.Chat())
	return b.runTask(c, text, func(ctx context.Context, task, repo string, onStatus cursor.StatusFunc) (string, string, error) {
		return b.tasks.RunAsk(ctx, task, repo, nonTechnical, onStatus)
	})
}

func (b *Bot) handleSolve(c tele.Context) error {
	if isGroup(c.Chat()) {
		return b.sendMarkdown(c, groupOnlyAskText)
	}
	text := strings.TrimSpace(c.Message().Payload)
	if text == "" {
		return c.Send("Будь ласка, вкажіть задачу після команди /solve.\n" +
			"Приклад: /solve Реалізувати функцію сортування масиву")
	}
	return b.runTask(c, text, b.tasks.RunSolve)
}

type taskFunc func(ctx context.Context, text, repositoryURL string, onStatus cursor.StatusFunc) (agentID, result string, err error)

// runTask is the shared create-agent-and-wait flow behind /plan, /ask and
// /solve: typing action, progress updates, final reply, agent binding.
func (b *Bot) runTask(c tele.Context, text string, run taskFunc) error {
	_ = c.Notify(tele.Typing)
	b.status(c, "🔄 Створюю агента...")

	userID := c.Sender().ID
	selectedRepo, err := b.store.SelectedRepository(userID)
	if err != nil {
		b.log.Warnf("Failed to load selected repository for %d: %v", userID, err)
	}

	ctx, cancel := b.taskContext()
	defer cancel()

	b.status(c, "⏳ Агент працює над завданням...")
	agentID, result, err := run(ctx, text, selectedRepo, b.progressCallback(c))
	if err != nil {
		return b.replyTaskError(c, err)
	}

	if err := b.store.SetLastAgentID(userID, agentID); err != nil {
		b.log.Warnf("Failed to bind agent %s for user %d: %v", agentID, userID, err)
	}
	return b.sendMarkdown(c, result)
}

// progressCallback relays poll progress to the chat once the run has been
// going for at least ten seconds.
func (b *Bot) progressCallback(c tele.Context) cursor.StatusFunc {
	return func(elapsed time.Duration, status cursor.Status) {
		if elapsed >= 10*time.Second {
			b.status(c, progressText(status, elapsed))
		}
	}
}

func (b *Bot) replyTaskError(c tele.Context, err error) error {
	var apierr *cursor.APIError
	switch {
	case errors.Is(err, cursor.ErrWaitTimeout):
		return c.Send("⏱ Операція зайняла занадто багато часу. " +
			"Спробуйте спростити задачу або повторити спробу пізніше.")

	case errors.As(err, &apierr):
		message := apierr.Message
		if apierr.StatusCode != 429 {
			// Error bodies may contain anything; never let them break
			// Telegram's Markdown parser.
			message = stripMarkdown(message)
		}
		return c.Send("❌ Помилка при зверненні до Cursor API:\n\n" + message +
			"\n\nПеревірте правильність API ключа та спробуйте ще раз.")

	default:
		b.log.Errorf("Unexpected task error: %+v", err)
		return c.Send(fmt.Sprintf("❌ Сталася неочікувана помилка:\n%v\n\nСпробуйте ще раз або зверніться до адміністратора.", err))
	}
}

func (b *Bot) handleRepos(c tele.Context) error {
	if refused, err := b.restrictToOwnerInGroup(c); refused {
		return err
	}
	_ = c.Notify(tele.Typing)

	ctx, cancel := b.taskContext()
	defer cancel()

	repos, err := b.client.Repositories(ctx)
	if err != nil {
		return b.replyRepoError(c, err)
	}
	if len(repos) == 0 {
		return c.Send("❌ Не знайдено доступних репозиторіїв.\n\nПеревірте налаштування Cursor GitHub App.")
	}

	return b.sendRepoList(c, repos, false)
}

func (b *Bot) handleFavRepos(c tele.Context) error {
	if refused, err := b.restrictToOwnerInGroup(c); refused {
		return err
	}
	_ = c.Notify(tele.Typing)

	ctx, cancel := b.taskContext()
	defer cancel()

	repos, err := b.client.Repositories(ctx)
	if err != nil {
		return b.replyRepoError(c, err)
	}
	if len(repos) == 0 {
		return c.Send("❌ Не знайдено доступних репозиторіїв.\n\nПеревірте налаштування Cursor GitHub App.")
	}

	favorites, err := b.store.FavoriteRepositories(c.Sender().ID)
	if err != nil {
		b.log.Warnf("Failed to load favorites: %v", err)
	}
	if len(favorites) == 0 {
		return b.sendMarkdown(c, "⭐ **Улюблені репозиторії:**\n\n"+
			"У вас поки немає улюблених репозиторіїв.\n\n"+
			"**Як додати репозиторій до улюблених:**\n"+
			"1. Використайте `/repos` для перегляду всіх репозиторіїв\n"+
			"2. Виберіть репозиторій\n"+
			"3. Натисніть кнопку \"⭐ Додати до улюблених\" після вибору")
	}

	return b.sendRepoList(c, repos, true)
}

// sendRepoList renders the repository inline keyboard: favorites first
// (⭐), the current selection marked with ✅. Button payloads carry the
// 1-based position in the full list.
func (b *Bot) sendRepoList(c tele.Context, repos []cursor.Repository, onlyFavorites bool) error {
	userID := c.Sender().ID
	selected, _ := b.store.SelectedRepository(userID)
	favorites, _ := b.store.FavoriteRepositories(userID)

	favorite := make(map[string]bool, len(favorites))
	for _, url := range favorites {
		favorite[url] = true
	}

	markup := &tele.ReplyMarkup{}
	var rows []tele.Row
	appendRow := func(idx int, repo cursor.Repository, fallbackMarker string) {
		marker := fallbackMarker
		if repo.URL == selected {
			marker = "✅"
		}
		label := strings.TrimSpace(fmt.Sprintf("%s %s/%s", marker, repo.Owner, repo.Name))
		rows = append(rows, markup.Row(markup.Data(label, btnSelectRepo.Unique, strconv.Itoa(idx+1))))
	}

	header := "📂 **Доступні репозиторії:**\n\n"
	if onlyFavorites {
		header = "⭐ **Улюблені репозиторії:**\n\nНатисніть на репозиторій для вибору:\n\n"
	}

	for idx, repo := range repos {
		if favorite[repo.URL] {
			appendRow(idx, repo, "⭐")
		}
	}
	if !onlyFavorites {
		for idx, repo := range repos {
			if !favorite[repo.URL] {
				appendRow(idx, repo, "")
			}
		}
	}
	markup.Inline(rows...)

	body := header
	if selected != "" {
		body += fmt.Sprintf("**Поточний репозиторій:**\n`%s`\n\n", selected)
	} else {
		body += "⚠️ Репозиторій не вибрано. Натисніть на репозиторій вище.\n\n"
	}
	body += "💡 Натисніть на репозиторій для вибору, після вибору доступні кнопки ⭐/➖ для улюблених."

	return b.sendMarkdown(c, body, markup)
}

func (b *Bot) handleSetRepo(c tele.Context) error {
	if refused, err := b.restrictToOwnerInGroup(c); refused {
		return err
	}

	fields := strings.Fields(c.Message().Payload)
	if len(fields) == 0 {
		return b.sendMarkdown(c, "Будь ласка, вкажіть номер репозиторію або використайте `/repos` для вибору через кнопки.\n\n"+
			"**Приклад:**\n"+
			"1. Подивіться список: `/repos`\n"+
			"2. Натисніть на потрібний репозиторій або введіть: `/setrepo 1`")
	}

	number, err := strconv.Atoi(fields[0])
	if err != nil {
		return b.sendMarkdown(c, "Будь ласка, вкажіть номер репозиторію або використайте `/repos` для вибору через кнопки.\n\n"+
			"**Приклад:** `/setrepo 1`")
	}

	_ = c.Notify(tele.Typing)

	ctx, cancel := b.taskContext()
	defer cancel()

	repos, err := b.client.Repositories(ctx)
	if err != nil {
		return b.replyRepoError(c, err)
	}
	if len(repos) == 0 {
		return c.Send("❌ Не знайдено доступних репозиторіїв.")
	}
	if number < 1 || number > len(repos) {
		return b.sendMarkdown(c, fmt.Sprintf("❌ Невірний номер. Доступно репозиторіїв: %d\n\nВикористайте `/repos` для перегляду списку.", len(repos)))
	}

	return b.selectRepository(c, repos[number-1])
}

func (b *Bot) selectRepository(c tele.Context, repo cursor.Repository) error {
	if repo.URL == "" {
		return c.Send("❌ Помилка: репозиторій не містить URL.")
	}
	if err := b.store.SetSelectedRepository(c.Sender().ID, repo.URL); err != nil {
		return errors.Wrap(err, "select repository")
	}
	return b.sendMarkdown(c, fmt.Sprintf("✅ Репозиторій вибрано:\n\n[%s/%s](%s)\n\nТепер всі команди будуть використовувати цей репозиторій.",
		repo.Owner, repo.Name, repo.URL))
}

func (b *Bot) replyRepoError(c tele.Context, err error) error {
	var apierr *cursor.APIError
	if errors.As(err, &apierr) {
		message := apierr.Message
		if apierr.StatusCode != 429 {
			message = stripMarkdown(message)
		}
		return c.Send("❌ Помилка при отриманні списку репозиторіїв:\n\n" + message)
	}
	b.log.Errorf("Unexpected repository error: %+v", err)
	return c.Send(fmt.Sprintf("❌ Сталася неочікувана помилка:\n%v", err))
}

func (b *Bot) handleAgents(c tele.Context) error {
	if refused, err := b.restrictToOwnerInGroup(c); refused {
		return err
	}
	_ = c.Notify(tele.Typing)

	ctx, cancel := b.taskContext()
	defer cancel()

	agents, err := b.activeAgents(ctx)
	if err != nil {
		var apierr *cursor.APIError
		if errors.As(err, &apierr) {
			return c.Send("❌ Помилка при отриманні списку агентів:\n\n" + stripMarkdown(apierr.Message))
		}
		b.log.Errorf("Unexpected agents error: %+v", err)
		return c.Send(fmt.Sprintf("❌ Сталася неочікувана помилка:\n%v", err))
	}

	if len(agents) == 0 {
		return b.sendMarkdown(c, "📋 **Список агентів:**\n\n"+
			"Активних агентів не знайдено.\n\n"+
			"Використайте /plan або /ask для створення нового агента.")
	}

	markup := &tele.ReplyMarkup{}
	var rows []tele.Row
	body := "📋 **Активні агенти:**\n\n"

	for idx, agent := range agents {
		name := agent.Name
		if name == "" {
			name = "Без назви"
		}
		body += fmt.Sprintf("%d. %s **%s**\n   Статус: %s\n   ID: `%s`\n\n",
			idx+1, statusEmoji(agent.Status), name, statusUA(agent.Status), shortID(agent.ID))

		label := fmt.Sprintf("%s %s", statusEmoji(agent.Status), truncate(name, 30))
		rows = append(rows, markup.Row(markup.Data(label, btnSelectAgent.Unique, agent.ID)))
	}
	markup.Inline(rows...)

	body += "**Натисніть на агента для вибору та перегляду історії:**\n\n" +
		"При виборі агента ви побачите історію розмови та зможете продовжити роботу з ним."

	return b.sendMarkdown(c, body, markup)
}

// activeAgents lists up to ten agents worth showing: creating, running or
// finished ones.
func (b *Bot) activeAgents(ctx context.Context) ([]cursor.Agent, error) {
	agents, err := b.client.Agents(ctx, 10)
	if err != nil {
		return nil, err
	}

	var active []cursor.Agent
	for _, agent := range agents {
		switch agent.Status {
		case "CREATING", "RUNNING", "FINISHED":
			active = append(active, agent)
		}
	}
	if len(active) > 10 {
		active = active[:10]
	}
	return active, nil
}
