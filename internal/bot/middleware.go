package bot

import (
	tele "gopkg.in/telebot.v3"
)

const refusalText = "Тільки мій власник може керувати мною"

const groupOnlyAskText = "❌ У групових чатах доступний тільки режим `/ask` для отримання відповідей на питання.\n\n" +
	"Використайте `/ask <ваше питання>` або тегніть бота з питанням."

// restrictAccess gates updates before any handler runs: private chats are
// owner-only, group chats are open (handlers restrict them to ask mode).
func (b *Bot) restrictAccess(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}

		if c.Callback() != nil {
			b.log.Infof("Received callback from user %d (@%s): %s", sender.ID, sender.Username, c.Data())
		} else {
			b.log.Infof("Received message from user %d (@%s): %s", sender.ID, sender.Username, truncate(c.Text(), 100))
		}

		if isGroup(c.Chat()) {
			return next(c)
		}

		if sender.ID != b.cfg.OwnerID {
			if c.Callback() != nil {
				return c.Respond(&tele.CallbackResponse{Text: refusalText, ShowAlert: true})
			}
			return c.Send(refusalText)
		}
		return next(c)
	}
}

func isGroup(chat *tele.Chat) bool {
	return chat != nil && (chat.Type == tele.ChatGroup || chat.Type == tele.ChatSuperGroup)
}

// restrictToOwnerInGroup refuses group usage of owner-only commands.
// It returns true when the command was refused.
func (b *Bot) restrictToOwnerInGroup(c tele.Context) (bool, error) {
	if isGroup(c.Chat()) && c.Sender().ID != b.cfg.OwnerID {
		return true, b.sendMarkdown(c, groupOnlyAskText)
	}
	return false, nil
}
