package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	tele "gopkg.in/telebot.v3"

	"github.com/dmytros/cursorbot/internal/cursor"
)

// handleRepoSelect reacts to a repository button: persists the selection
// and offers a favorite toggle for it.
func (b *Bot) handleRepoSelect(c tele.Context) error {
	b.ackCallback(c)

	number, err := strconv.Atoi(strings.TrimSpace(c.Data()))
	if err != nil {
		return c.Send("❌ Помилка: невірний формат даних.")
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
		return c.Send("❌ Невірний номер репозиторію.")
	}

	repo := repos[number-1]
	if err := b.selectRepository(c, repo); err != nil {
		return err
	}

	isFav, err := b.store.IsFavorite(c.Sender().ID, repo.URL)
	if err != nil {
		b.log.Warnf("Failed to check favorite: %v", err)
	}
	label := "⭐ Додати до улюблених"
	if isFav {
		label = "➖ Видалити з улюблених"
	}

	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(markup.Data(label, btnFavRepo.Unique, strconv.Itoa(number))))
	return c.Send("💡 Використайте кнопку нижче для управління улюбленими:", markup)
}

// handleFavToggle adds or removes the repository from the user's
// favorites and re-renders the list.
func (b *Bot) handleFavToggle(c tele.Context) error {
	b.ackCallback(c)

	number, err := strconv.Atoi(strings.TrimSpace(c.Data()))
	if err != nil {
		return c.Send("❌ Помилка: невірний формат даних.")
	}

	_ = c.Notify(tele.Typing)

	ctx, cancel := b.taskContext()
	defer cancel()

	repos, err := b.client.Repositories(ctx)
	if err != nil {
		return b.replyRepoError(c, err)
	}
	if number < 1 || number > len(repos) {
		return c.Send("❌ Невірний номер репозиторію.")
	}

	userID := c.Sender().ID
	repo := repos[number-1]

	isFav, err := b.store.IsFavorite(userID, repo.URL)
	if err != nil {
		return errors.Wrap(err, "favorite toggle")
	}

	if isFav {
		if err := b.store.RemoveFavorite(userID, repo.URL); err != nil {
			return errors.Wrap(err, "favorite toggle")
		}
		if err := b.sendMarkdown(c, fmt.Sprintf("➖ Репозиторій [%s/%s](%s) видалено з улюблених.", repo.Owner, repo.Name, repo.URL)); err != nil {
			return err
		}
	} else {
		if err := b.store.AddFavorite(userID, repo.URL); err != nil {
			return errors.Wrap(err, "favorite toggle")
		}
		if err := b.sendMarkdown(c, fmt.Sprintf("⭐ Репозиторій [%s/%s](%s) додано до улюблених.", repo.Owner, repo.Name, repo.URL)); err != nil {
			return err
		}
	}

	return b.sendRepoList(c, repos, false)
}

// handleAgentSelect shows the agent's recent conversation history and
// binds it for follow-up messages. The button payload carries the agent
// ID, so a list that changed since it was rendered cannot bind the wrong
// agent.
func (b *Bot) handleAgentSelect(c tele.Context) error {
	b.ackCallback(c)

	agentID := strings.TrimSpace(c.Data())
	if agentID == "" {
		return c.Send("❌ Помилка: невірний формат даних.")
	}

	_ = c.Notify(tele.Typing)

	ctx, cancel := b.taskContext()
	defer cancel()

	agents, err := b.activeAgents(ctx)
	if err != nil || len(agents) == 0 {
		return c.Send("❌ Список агентів не знайдено. Використайте /agents для оновлення.")
	}

	var agent cursor.Agent
	for _, a := range agents {
		if a.ID == agentID {
			agent = a
			break
		}
	}
	if agent.ID == "" {
		return c.Send("❌ Агента не знайдено. Використайте /agents для оновлення списку.")
	}

	name := agent.Name
	if name == "" {
		name = "Без назви"
	}

	if err := b.store.SetLastAgentID(c.Sender().ID, agent.ID); err != nil {
		b.log.Warnf("Failed to bind agent %s: %v", agent.ID, err)
	}

	header := fmt.Sprintf("✅ **Вибрано агента:**\n\n**%s**\nСтатус: %s\nID: `%s`\n\n", name, statusUA(agent.Status), agent.ID)
	footer := "\n💬 Тепер ви можете відправляти текстові повідомлення або фото для follow-up до цього агента."

	messages, err := b.client.Conversation(ctx, agent.ID)
	if err != nil {
		var apierr *cursor.APIError
		reason := err.Error()
		if errors.As(err, &apierr) {
			reason = stripMarkdown(apierr.Message)
		}
		return b.sendMarkdown(c, header+"⚠️ Не вдалося завантажити історію: "+reason+"\n"+footer)
	}

	return b.sendMarkdown(c, header+formatHistory(messages)+footer)
}

// formatHistory renders the last ten conversation messages, truncating
// long agent replies.
func formatHistory(messages []cursor.Message) string {
	if len(messages) == 0 {
		return "📜 Історія розмови порожня.\n"
	}

	text := "📜 **Історія розмови:**\n\n"
	recent := messages
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	for _, m := range recent {
		switch m.Type {
		case "user_message":
			text += fmt.Sprintf("👤 **Ви:**\n%s\n\n", m.Text)
		case "assistant_message":
			text += fmt.Sprintf("🤖 **Агент:**\n%s\n\n", truncate(m.Text, 500))
		}
	}

	if len(messages) > 10 {
		text += fmt.Sprintf("\n_... (показано останні 10 з %d повідомлень)_\n", len(messages))
	}
	return text
}

// ackCallback answers the callback query before the slow work starts so
// Telegram does not time it out. An already expired callback is fine.
func (b *Bot) ackCallback(c tele.Context) {
	if c.Callback() == nil {
		return
	}
	if err := c.Respond(); err != nil {
		b.log.Warnf("Failed to answer callback query (might be expired): %v", err)
	}
}
