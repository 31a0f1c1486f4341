package bot

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	tele "gopkg.in/telebot.v3"

	"github.com/dmytros/cursorbot/internal/cursor"
)

// handleText routes free text: group chats react to mentions only,
// private chats treat it as a follow-up to the bound agent.
func (b *Bot) handleText(c tele.Context) error {
	text := strings.TrimSpace(c.Text())
	if strings.HasPrefix(text, "/") {
		// Unknown command, not a follow-up.
		return nil
	}
	if isGroup(c.Chat()) {
		return b.handleGroupMention(c, text)
	}
	return b.handleFollowup(c, text)
}

// handlePhoto forwards a photo as a follow-up: the image is downloaded,
// base64-encoded and appended to the caption.
func (b *Bot) handlePhoto(c tele.Context) error {
	if isGroup(c.Chat()) {
		return nil
	}

	photo := c.Message().Photo
	if photo == nil {
		return nil
	}

	text := strings.TrimSpace(c.Message().Caption)

	b.status(c, "📸 Обробляю фото...")
	encoded, size, err := b.downloadPhoto(photo)
	if err != nil {
		b.log.Errorf("Error processing photo: %v", err)
		if text == "" {
			text = fmt.Sprintf("Користувач надіслав фото, але сталася помилка при обробці: %v", err)
		} else {
			text = fmt.Sprintf("%s\n\n[Помилка при обробці фото: %v]", text, err)
		}
		return b.handleFollowup(c, text)
	}

	info := fmt.Sprintf("[Користувач надіслав фото: %dx%dpx, розмір файлу: %d байт]", photo.Width, photo.Height, size)
	payload := fmt.Sprintf("[Фото в base64 (data:image/jpeg;base64):\n%s]", encoded)
	if text == "" {
		text = "Користувач надіслав фото.\n\n" + info + "\n\n" + payload
	} else {
		text = text + "\n\n" + info + "\n\n" + payload
	}

	b.status(c, "📸 Фото оброблено, відправляю агенту...")
	b.log.Infof("Processing photo follow-up: %dx%d, %d bytes", photo.Width, photo.Height, size)
	return b.handleFollowup(c, text)
}

func (b *Bot) downloadPhoto(photo *tele.Photo) (string, int, error) {
	rc, err := b.download(&photo.File)
	if err != nil {
		return "", 0, errors.Wrap(err, "download photo")
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", 0, errors.Wrap(err, "read photo")
	}
	return base64.StdEncoding.EncodeToString(data), len(data), nil
}

// handleFollowup forwards text to the user's bound agent and waits for
// the next answer.
func (b *Bot) handleFollowup(c tele.Context, text string) error {
	userID := c.Sender().ID

	agentID, err := b.store.LastAgentID(userID)
	if err != nil {
		b.log.Warnf("Failed to load agent binding for %d: %v", userID, err)
	}
	if agentID == "" {
		return b.sendMarkdown(c, "❌ Не знайдено активного агента.\n\n"+
			"Варіанти:\n"+
			"• Використайте `/plan` або `/ask` для створення нового агента\n"+
			"• Використайте `/agents` для вибору існуючого агента")
	}

	if strings.TrimSpace(text) == "" {
		return c.Send("⚠️ Повідомлення порожнє. Будь ласка, надішліть текст або фото з описом.")
	}

	_ = c.Notify(tele.Typing)

	ctx, cancel := b.taskContext()
	defer cancel()

	// The status before the follow-up tells the wait loop whether it has
	// to watch the agent restart first.
	initial, err := b.client.AgentStatus(ctx, agentID)
	if err != nil {
		return b.replyFollowupError(c, err)
	}

	if err := b.client.AddFollowup(ctx, agentID, text); err != nil {
		// A 409 means the agent is gone server-side; drop the binding so
		// the next message does not hit the same wall.
		var apierr *cursor.APIError
		if errors.As(err, &apierr) && apierr.StatusCode == 409 {
			if cerr := b.store.ClearLastAgentID(userID); cerr != nil {
				b.log.Warnf("Failed to clear agent binding for %d: %v", userID, cerr)
			}
		}
		return b.replyFollowupError(c, err)
	}
	b.status(c, "✅ Повідомлення відправлено агенту")
	b.status(c, "⏳ Очікую відповідь від агента...")

	run, err := b.client.WaitAgent(ctx, agentID, cursor.WaitOptions{
		Timeout:       b.cfg.WaitTimeout,
		PollInterval:  b.cfg.PollInterval,
		InitialStatus: initial.Status,
		OnStatus:      b.progressCallback(c),
	})
	if err != nil {
		return b.replyFollowupError(c, err)
	}

	if run.Output != "" {
		return b.sendMarkdown(c, run.Output)
	}

	// The wait can return empty output; surface the latest answer from
	// the conversation instead.
	messages, err := b.client.Conversation(ctx, agentID)
	if err == nil {
		var latest string
		for _, m := range messages {
			if m.Type == "assistant_message" && m.Text != "" {
				latest = m.Text
			}
		}
		if latest != "" {
			return b.sendMarkdown(c, latest)
		}
	} else {
		b.log.Warnf("Failed to get conversation after follow-up: %v", err)
	}
	return c.Send("✅ Повідомлення відправлено. Агент обробляє ваш запит...")
}

func (b *Bot) replyFollowupError(c tele.Context, err error) error {
	var apierr *cursor.APIError
	switch {
	case errors.Is(err, cursor.ErrWaitTimeout):
		return c.Send("⏱ Операція зайняла занадто багато часу. " +
			"Спробуйте спростити відповідь або повторити спробу пізніше.")
	case errors.As(err, &apierr):
		return c.Send("❌ Помилка при додаванні follow-up:\n\n" + stripMarkdown(apierr.Message))
	default:
		b.log.Errorf("Unexpected follow-up error: %+v", err)
		return c.Send(fmt.Sprintf("❌ Сталася неочікувана помилка:\n%v", err))
	}
}

// handleGroupMention answers questions addressed to the bot in a group
// chat. Only mentions are handled; everything else is ignored.
func (b *Bot) handleGroupMention(c tele.Context, text string) error {
	username := b.api.Me.Username
	mention := "@" + username

	mentioned := false
	for _, entity := range c.Message().Entities {
		if entity.Type == tele.EntityMention {
			if c.Message().EntityText(entity) == mention {
				mentioned = true
				break
			}
		}
	}
	if !mentioned && username != "" && strings.Contains(strings.ToLower(text), strings.ToLower(mention)) {
		mentioned = true
	}
	if !mentioned {
		return nil
	}

	question := strings.TrimSpace(strings.ReplaceAll(text, mention, ""))
	if question == "" {
		return b.sendMarkdown(c, fmt.Sprintf("👋 Привіт! Тегніть мене з питанням про проект.\n\n"+
			"**Приклад:**\n"+
			"%s Як працює автентифікація користувачів?\n\n"+
			"Або використайте команду `/ask <ваше питання>`", mention))
	}

	return b.runTask(c, question, func(ctx context.Context, task, repo string, onStatus cursor.StatusFunc) (string, string, error) {
		return b.tasks.RunAsk(ctx, task, repo, true, onStatus)
	})
}
