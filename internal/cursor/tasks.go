package cursor

import (
	"context"
	"strings"

	"github.com/mdouchement/logger"
)

// The version bump reminders differ slightly between plan and solve
// replies.
const (
	planVersionSuffix = "\n\n🔁 Після внесення змін онови мінорну версію проєкту " +
		"(наприклад, з `0.0.1` до `0.0.2`)."
	solveVersionSuffix = "\n\n🔁 Після внесення змін не забудь оновити мінорну версію проєкту " +
		"(наприклад, з `0.0.1` до `0.0.2`)."
)

const nonTechnicalPreamble = "Відповідай простою мовою, без технічних деталей та без коду."

// Tasks exposes the three operations the bot offers on top of the raw
// client: plan, ask and solve.
type Tasks struct {
	client *Client
	wait   WaitOptions
	log    logger.Logger
}

// NewTasks wires the orchestration layer. wait carries the poll timeout
// and interval applied to every run.
func NewTasks(client *Client, wait WaitOptions, log logger.Logger) *Tasks {
	return &Tasks{client: client, wait: wait, log: log}
}

// RunPlan creates a plan-mode agent and waits for the formatted plan.
// It returns the agent ID together with the reply text.
func (t *Tasks) RunPlan(ctx context.Context, text, repositoryURL string, onStatus StatusFunc) (string, string, error) {
	t.log.Infof("Running plan for text: %s...", truncate(text, 100))

	run, agentID, err := t.execute(ctx, text, repositoryURL, ModePlan, onStatus)
	if err != nil {
		return agentID, "", err
	}
	if run.Output == "" {
		return agentID, "План не був згенерований. Спробуйте ще раз.", nil
	}
	return agentID, formatPlan(run.Output), nil
}

// RunAsk creates an ask-mode agent that produces clarifying questions.
// nonTechnical asks for a plain-language answer (used in group chats).
func (t *Tasks) RunAsk(ctx context.Context, text, repositoryURL string, nonTechnical bool, onStatus StatusFunc) (string, string, error) {
	t.log.Infof("Running ask for text: %s...", truncate(text, 100))

	if nonTechnical {
		text = nonTechnicalPreamble + "\n\n" + text
	}

	run, agentID, err := t.execute(ctx, text, repositoryURL, ModeAsk, onStatus)
	if err != nil {
		return agentID, "", err
	}
	if run.Output == "" {
		return agentID, "Питання не були згенеровані. Спробуйте ще раз.", nil
	}
	return agentID, formatQuestions(run.Output), nil
}

// RunSolve creates a code-generation agent.
func (t *Tasks) RunSolve(ctx context.Context, text, repositoryURL string, onStatus StatusFunc) (string, string, error) {
	t.log.Infof("Running solve for text: %s...", truncate(text, 100))

	run, agentID, err := t.execute(ctx, text, repositoryURL, ModeSolve, onStatus)
	if err != nil {
		return agentID, "", err
	}
	if run.Output == "" {
		return agentID, "Код не був згенерований. Спробуйте ще раз або спростіть опис задачі." + solveVersionSuffix, nil
	}
	return agentID, formatSolution(run.Output), nil
}

func (t *Tasks) execute(ctx context.Context, text, repositoryURL string, mode Mode, onStatus StatusFunc) (Run, string, error) {
	agent, err := t.client.CreateAgent(ctx, text, repositoryURL, mode)
	if err != nil {
		return Run{}, "", err
	}

	wait := t.wait
	wait.OnStatus = onStatus
	run, err := t.client.WaitAgent(ctx, agent.ID, wait)
	if err != nil {
		return Run{}, agent.ID, err
	}
	return run, agent.ID, nil
}

func formatPlan(text string) string {
	if !strings.HasPrefix(strings.TrimSpace(text), "📋") {
		text = "📋 **План рішення:**\n\n" + text
	}
	return text + planVersionSuffix
}

func formatQuestions(text string) string {
	if strings.HasPrefix(strings.TrimSpace(text), "❓") {
		return text
	}
	return "❓ **Уточнюючі питання:**\n\n" + text
}

func formatSolution(text string) string {
	if !strings.HasPrefix(strings.TrimSpace(text), "💻") {
		text = "💻 **Згенерований код / рішення:**\n\n" + text
	}
	return text + solveVersionSuffix
}
