package nodes

import (
	"context"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/smart-oj/assistant-server/internal/agent/graph/prompts"
	"github.com/smart-oj/assistant-server/internal/agent/model"
)

func testMetadata() *model.QuestionMetadata {
	return &model.QuestionMetadata{
		QuestionID:    42,
		QuestionTitle: "Two Sum",
		Languages:     []model.Language{{Name: "cpp", Version: "17"}},
	}
}

func dispatcherDeps(m *scriptedModel) *Deps {
	return &Deps{
		Models: NewChatModelsFromMap(map[string]einomodel.ToolCallingChatModel{"m": m}),
		Prompts: prompts.NewManager(map[string]string{
			"dispatch": "Route for {{.question_title}}",
		}),
	}
}

func invokeDispatcher(t *testing.T, deps *Deps, st *model.AppState) *model.AppState {
	t.Helper()
	fn := dispatch(deps, DispatcherSpec{Model: "m", Prompt: "dispatch"})
	out, err := fn(context.Background(), st)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	return out
}

func TestDispatcherTerminatesWithoutMetadata(t *testing.T) {
	m := &scriptedModel{}
	st := invokeDispatcher(t, dispatcherDeps(m), &model.AppState{})
	if len(st.Plan) != 1 {
		t.Fatalf("plan length %d", len(st.Plan))
	}
	if st.Plan[0].Assistant != "" {
		t.Fatalf("expected terminal step, got %+v", st.Plan[0])
	}
	if m.callCount() != 0 {
		t.Fatal("model must not be called without metadata")
	}
}

func TestDispatcherAppendsOneStepPerVisit(t *testing.T) {
	m := &scriptedModel{replies: []*schema.Message{
		textReply(`{"assistant":"test","task_description":"run samples"}`),
		textReply(`{"assistant":"","task_description":""}`),
	}}
	deps := dispatcherDeps(m)

	st := &model.AppState{QuestionMetadata: testMetadata()}
	st = invokeDispatcher(t, deps, st)
	if len(st.Plan) != 1 || st.Plan[0].Assistant != "test" {
		t.Fatalf("first visit plan: %+v", st.Plan)
	}

	st = invokeDispatcher(t, deps, st)
	if len(st.Plan) != 2 || st.Plan[1].Assistant != "" {
		t.Fatalf("second visit plan: %+v", st.Plan)
	}
}

func TestDispatcherTreatsUndecodableOutputAsTerminate(t *testing.T) {
	m := &scriptedModel{replies: []*schema.Message{
		textReply("whatever"), textReply("nope"), textReply("still nothing"),
	}}
	st := invokeDispatcher(t, dispatcherDeps(m), &model.AppState{QuestionMetadata: testMetadata()})
	if len(st.Plan) != 1 || st.Plan[0].Assistant != "" {
		t.Fatalf("expected terminal step, got %+v", st.Plan)
	}
}

func TestNextStep(t *testing.T) {
	routing := map[string]bool{"test": true, "question": true}
	next := NextStep(routing)

	cases := []struct {
		name string
		plan []model.Step
		want string
	}{
		{"empty plan", nil, compose.END},
		{"terminal step", []model.Step{{Assistant: ""}}, compose.END},
		{"unknown assistant", []model.Step{{Assistant: "wizard"}}, compose.END},
		{"known assistant", []model.Step{{Assistant: "test"}}, "test"},
		{"latest step wins", []model.Step{{Assistant: "test"}, {Assistant: "question"}}, "question"},
	}
	for _, tc := range cases {
		st := &model.AppState{Plan: tc.plan}
		got, err := next(context.Background(), st)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
		// Routing must be pure: a second evaluation sees the same plan and
		// returns the same target.
		again, _ := next(context.Background(), st)
		if again != got {
			t.Errorf("%s: condition not idempotent: %q then %q", tc.name, got, again)
		}
	}
}
