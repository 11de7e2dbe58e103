// Package generic holds the small single-shot model tasks that sit outside
// the agent graph: conversation titling, personalized memory summarization,
// and user profile rendering.
package generic

import (
	"context"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/smart-oj/assistant-server/internal/agent/graph/prompts"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

const titlePromptKey = "generic.conversation_title"

const maxTitleLen = 60

// TitleGenerator produces a short title for a brand-new conversation from
// its first exchange.
type TitleGenerator struct {
	cm      einomodel.BaseChatModel
	prompts *prompts.Manager
}

func NewTitleGenerator(cm einomodel.BaseChatModel, pm *prompts.Manager) *TitleGenerator {
	return &TitleGenerator{cm: cm, prompts: pm}
}

// Generate returns a title for the opening question/answer pair. Titling is
// cosmetic, so any failure falls back to a truncation of the question.
func (g *TitleGenerator) Generate(ctx context.Context, question, answer string) string {
	system, err := g.prompts.Get(titlePromptKey)
	if err != nil {
		logx.Warn().Err(err).Msg("title prompt missing, using fallback title")
		return fallbackTitle(question)
	}

	msgs := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage("Question:\n" + question + "\n\nAnswer:\n" + answer),
	}
	resp, err := g.cm.Generate(ctx, msgs)
	if err != nil {
		logx.Warn().Err(err).Msg("title generation failed, using fallback title")
		return fallbackTitle(question)
	}

	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Content), `"`))
	if title == "" {
		return fallbackTitle(question)
	}
	return truncate(title, maxTitleLen)
}

func fallbackTitle(question string) string {
	q := strings.TrimSpace(question)
	if q == "" {
		return "New conversation"
	}
	return truncate(q, maxTitleLen)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
