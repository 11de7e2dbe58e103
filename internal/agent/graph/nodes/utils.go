package nodes

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Graph node names not driven by the YAML layout.
const (
	NodeInputLoader = "input_loader"
	NodeDispatcher  = "dispatcher"
)

const (
	DefaultMaxToolRounds     = 10
	DefaultMaxDispatchRounds = 8
)

// answerEnvelope wraps a specialist's final answer so the dispatcher can
// attribute it when planning the next step.
const answerEnvelope = "I am the <%s> assistant; here is my result:\n%s"

// ToolsUnavailableDiagnostic is the fixed answer a tool-loop node returns
// when its permitted tool set resolves to empty for this session.
const ToolsUnavailableDiagnostic = "The tools required for this task are not available in the current session, so it cannot be completed."

// LanguageRequiredDiagnostic is returned when a language-scoped node cannot
// resolve a target programming language from the conversation.
const LanguageRequiredDiagnostic = "A target programming language must be specified before this task can proceed."

// EnvelopeAnswer formats a specialist answer in the attribution envelope.
func EnvelopeAnswer(node, answer string) string {
	return fmt.Sprintf(answerEnvelope, node, answer)
}

// lastHumanContent returns the content of the most recent user message.
func lastHumanContent(messages []*schema.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i] != nil && messages[i].Role == schema.User {
			return messages[i].Content
		}
	}
	return ""
}

// transcriptAfterSystem copies the non-system turns of a tool-loop run for
// the display log. Tool results and intermediate assistant turns are kept so
// the client can replay the node's work.
func transcriptAfterSystem(messages []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		if m == nil || m.Role == schema.System {
			continue
		}
		out = append(out, m)
	}
	return out
}

func normalizeNodeName(name string) string {
	return strings.TrimSpace(name)
}
