package model

import (
	"github.com/cloudwego/eino/schema"
)

// Language is one programming language the judge platform supports.
type Language struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	IsDeleted bool   `json:"is_deleted"`
}

// QuestionMetadata is the structured question record produced once by the
// data-preheat step and read by every downstream specialist. When it is nil
// the specialists cannot run meaningfully and the dispatcher terminates.
type QuestionMetadata struct {
	QuestionID          int        `json:"question_id"`
	QuestionTitle       string     `json:"question_title"`
	QuestionDescription string     `json:"question_description"`
	QuestionDifficulty  string     `json:"question_difficulty"`
	QuestionTags        []string   `json:"question_tags"`
	Languages           []Language `json:"languages"`
}

// Step is one routing decision: which assistant runs next and what it should
// do. An empty Assistant terminates the run.
type Step struct {
	Assistant       string `json:"assistant"`
	TaskDescription string `json:"task_description"`
}

// AppState is the conversation state threaded through one graph run.
//
// Messages and DisplayMessages are append-only: nodes append turns, never
// rewrite them. Plan grows by exactly one Step per dispatcher invocation; the
// latest entry decides the next routing target.
type AppState struct {
	ThreadID  string
	UserID    string
	SessionID string // tool-gateway credential, scoped to this run

	Messages        []*schema.Message
	DisplayMessages []*schema.Message

	QuestionMetadata *QuestionMetadata
	Plan             []Step

	// PersistedCount is how many leading entries of Messages are already in
	// the history store (loaded prior turns plus the saved user query).
	PersistedCount int
}

// LastStep returns the most recent plan entry, or nil when no dispatcher
// decision has been recorded yet.
func (s *AppState) LastStep() *Step {
	if len(s.Plan) == 0 {
		return nil
	}
	return &s.Plan[len(s.Plan)-1]
}

// UnpersistedMessages returns the suffix of Messages not yet written to the
// history store.
func (s *AppState) UnpersistedMessages() []*schema.Message {
	if s.PersistedCount >= len(s.Messages) {
		return nil
	}
	return s.Messages[s.PersistedCount:]
}

// QueryInput starts one assistant run. QuestionDescription and Code carry
// solving-assistant context pasted by the user; the question-manage graph
// ignores them and fetches question data through its tools instead.
type QueryInput struct {
	ThreadID  string `json:"thread_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"-"`
	Query     string `json:"query"`

	QuestionDescription string `json:"question_description,omitempty"`
	Code                string `json:"code,omitempty"`
}
