package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmytros/cursorbot/internal/cursor"
)

// stripMarkdown removes formatting characters so an arbitrary error body
// can never break Telegram's Markdown parser.
func stripMarkdown(s string) string {
	return strings.NewReplacer("**", "", "*", "", "`", "").Replace(s)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func progressText(status cursor.Status, elapsed time.Duration) string {
	var text string
	switch status {
	case cursor.StatusRunning:
		text = "⏳ Агент працює над завданням..."
	case cursor.StatusCreating:
		text = "🔄 Агент створюється..."
	case cursor.StatusExpired:
		text = "⚠️ Агент застарів..."
	default:
		text = "⏳ Агент обробляє ваш запит..."
	}
	return fmt.Sprintf("%s (минуло %dс)", text, int(elapsed.Seconds()))
}

func statusEmoji(raw string) string {
	switch raw {
	case "CREATING":
		return "🔄"
	case "RUNNING":
		return "⚙️"
	case "FINISHED":
		return "✅"
	}
	return "❓"
}

func statusUA(raw string) string {
	switch raw {
	case "CREATING":
		return "створюється"
	case "RUNNING":
		return "працює"
	case "FINISHED":
		return "завершено"
	}
	return strings.ToLower(raw)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

const welcomeText = "👋 Привіт! Я бот для роботи з Cursor Cloud Agent API.\n\n" +
	"**Доступні команди:**\n" +
	"• `/repos` - показати список репозиторіїв\n" +
	"• `/favrepos` - показати тільки улюблені репозиторії\n" +
	"• `/setrepo <номер>` - вибрати репозиторій\n" +
	"• `/plan <задача>` - отримати покроковий план рішення\n" +
	"• `/ask <задача>` - отримати уточнюючі питання\n" +
	"• `/solve <задача>` - згенерувати код для вирішення задачі\n" +
	"• `/agents` - показати список активних агентів та їх історію\n\n" +
	"**Як працювати з агентами:**\n" +
	"1. Створіть агента через `/plan` або `/ask`\n" +
	"2. Перегляньте список через `/agents`\n" +
	"3. Виберіть агента для перегляду історії\n" +
	"4. Відправте текстове повідомлення або фото для follow-up"

const helpText = "📖 **Довідка по командах:**\n\n" +
	"**Репозиторії:**\n" +
	"`/repos` - показати список доступних репозиторіїв (улюблені першими)\n" +
	"`/favrepos` - показати тільки улюблені репозиторії для швидкого вибору\n" +
	"`/setrepo <номер>` - вибрати репозиторій для роботи\n\n" +
	"**Робота з агентами:**\n" +
	"`/plan <текст задачі>` - створює агента та отримує покроковий план рішення.\n" +
	"`/ask <текст>` - створює агента та отримує уточнюючі питання від Cursor.\n" +
	"`/solve <текст>` - створює агента для генерації коду.\n" +
	"`/agents` - показує список активних агентів та історію розмови.\n\n" +
	"**Покроковий алгоритм роботи:**\n" +
	"1. Викличте `/repos`, щоб перевірити або змінити репозиторій.\n" +
	"2. Створіть агента через `/plan <задача>` або `/ask <задача>`.\n" +
	"3. За потреби перегляньте всіх агентів через `/agents` та виберіть потрібного.\n" +
	"4. Відправляйте звичайні текстові повідомлення або фото (без `/`), щоб додавати follow-up інструкції.\n\n" +
	"**Відправка фото:**\n" +
	"Фото передаються агенту як follow-up повідомлення, текст до фото буде включений.\n\n" +
	"**Примітка:** Команди `/plan`, `/ask`, `/solve` вимагають вказання тексту задачі."
