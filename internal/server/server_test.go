package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/smart-oj/assistant-server/internal/agent/graph/conversations"
	"github.com/smart-oj/assistant-server/internal/agent/graph/events"
	"github.com/smart-oj/assistant-server/internal/agent/model"
	"github.com/smart-oj/assistant-server/internal/session"
)

const (
	userSession  = "sess-user"
	adminSession = "sess-admin"
)

// fakeBackend plays the judge backend's /user endpoint.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user" {
			http.NotFound(w, r)
			return
		}
		cookie, err := r.Cookie("session_id")
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch cookie.Value {
		case userSession:
			json.NewEncoder(w).Encode(User{ID: 7, Username: "alice"})
		case adminSession:
			json.NewEncoder(w).Encode(User{ID: 99, Username: "root", IsSuperuser: true})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type stubHistoryRepo struct {
	mu      sync.Mutex
	threads map[string][]*schema.Message
}

func newStubHistoryRepo() *stubHistoryRepo {
	return &stubHistoryRepo{threads: map[string][]*schema.Message{}}
}

func (r *stubHistoryRepo) AddMessage(_ context.Context, threadID string, m *schema.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[threadID] = append(r.threads[threadID], m)
	return nil
}

func (r *stubHistoryRepo) LoadHistory(_ context.Context, threadID string) (*model.ThreadHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &model.ThreadHistory{ThreadID: threadID, Messages: r.threads[threadID]}, nil
}

func (r *stubHistoryRepo) ClearHistory(_ context.Context, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, threadID)
	return nil
}

func (r *stubHistoryRepo) GetMessageCount(_ context.Context, threadID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads[threadID]), nil
}

type stubConvStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*model.Conversation
}

func newStubConvStore() *stubConvStore {
	return &stubConvStore{byID: map[int64]*model.Conversation{}}
}

func (s *stubConvStore) Create(_ context.Context, title, userID string, questionID *int64, threadID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.byID[s.nextID] = &model.Conversation{ID: s.nextID, Title: title, UserID: userID, QuestionID: questionID, ThreadID: threadID}
	return s.nextID, nil
}

func (s *stubConvStore) SoftDelete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	delete(s.byID, id)
	return ok, nil
}

func (s *stubConvStore) GetByThreadID(_ context.Context, threadID string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byID {
		if c.ThreadID == threadID {
			return c, nil
		}
	}
	return nil, nil
}

func (s *stubConvStore) ListByUserAndQuestion(_ context.Context, userID string, questionID *int64) ([]*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Conversation
	for _, c := range s.byID {
		if c.UserID != userID {
			continue
		}
		if questionID != nil && (c.QuestionID == nil || *c.QuestionID != *questionID) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *stubConvStore) UpdateTitle(_ context.Context, id int64, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if ok {
		c.Title = title
	}
	return ok, nil
}

type stubMemoryStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*model.Memory
}

func newStubMemoryStore() *stubMemoryStore {
	return &stubMemoryStore{byID: map[int64]*model.Memory{}}
}

func (s *stubMemoryStore) CreateMemories(_ context.Context, userID string, memories []*model.Memory) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(memories))
	for _, m := range memories {
		s.nextID++
		stored := *m
		stored.ID = s.nextID
		stored.UserID = userID
		s.byID[s.nextID] = &stored
		ids = append(ids, s.nextID)
	}
	return ids, nil
}

func (s *stubMemoryStore) ListByUser(_ context.Context, userID string) ([]*model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Memory
	for _, m := range s.byID {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *stubMemoryStore) Delete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	delete(s.byID, id)
	return ok, nil
}

func (s *stubMemoryStore) UpdateContent(_ context.Context, id int64, content string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if ok {
		m.Content = content
	}
	return ok, nil
}

func (s *stubMemoryStore) BatchUpdate(_ context.Context, memories []*model.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range memories {
		if stored, ok := s.byID[m.ID]; ok {
			stored.Content = m.Content
		}
	}
	return nil
}

type stubRunner struct {
	events []events.Event
}

func (r *stubRunner) Invoke(ctx context.Context, in model.QueryInput) (*model.AppState, error) {
	for _, e := range r.events {
		events.Emit(ctx, e)
	}
	return &model.AppState{ThreadID: in.ThreadID, UserID: in.UserID}, nil
}

type testEnv struct {
	srv      *httptest.Server
	convs    *stubConvStore
	memories *stubMemoryStore
	history  *stubHistoryRepo
}

func newTestEnv(t *testing.T, runner session.Runner) *testEnv {
	t.Helper()
	backend := fakeBackend(t)
	history := newStubHistoryRepo()
	convs := newStubConvStore()
	memories := newStubMemoryStore()

	sessions := session.NewManager(session.Config{
		History: conversations.NewManager(history),
		Convs:   convs,
	})
	s := New(Config{
		Auth:     NewAuthenticator(model.BackendConfig{URL: backend.URL, Timeout: 5}),
		Sessions: sessions,
		Agent:    runner,
		Convs:    convs,
		Memories: memories,
		History:  history,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, convs: convs, memories: memories, history: history}
}

func (e *testEnv) do(t *testing.T, method, path, sessionID string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "session_id", Value: sessionID})
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeResp(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})

	resp := env.do(t, http.MethodGet, "/conversation/list", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no cookie: status %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/conversation/list", "bogus", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad cookie: status %d", resp.StatusCode)
	}
}

func TestQuestionManageRunAndStream(t *testing.T) {
	runner := &stubRunner{events: []events.Event{
		events.NodeCallLog("dispatcher", "routes the request", events.ActionEntry),
		events.AssistantChunk("the answer", "m1", "test"),
	}}
	env := newTestEnv(t, runner)

	resp := env.do(t, http.MethodPost, "/chat/question-manage", adminSession, map[string]any{
		"thread_id": "t1",
		"query":     "check my tests",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start: status %d", resp.StatusCode)
	}
	var started startChatResponse
	decodeResp(t, resp, &started)
	if started.ThreadID != "t1" || started.ProcessID == "" {
		t.Fatalf("start response %+v", started)
	}

	resp = env.do(t, http.MethodGet, "/chat/stream?thread_id=t1", adminSession, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
			lines = append(lines, strings.TrimPrefix(line, "data: "))
		}
	}
	if len(lines) != 3 {
		t.Fatalf("stream lines %v", lines)
	}
	if !strings.Contains(lines[1], "the answer") {
		t.Fatalf("assistant event %q", lines[1])
	}
	if lines[2] != "DONE" {
		t.Fatalf("terminator %q", lines[2])
	}

	// The run created a conversation record for the new thread.
	deadline := time.Now().Add(2 * time.Second)
	for {
		conv, _ := env.convs.GetByThreadID(context.Background(), "t1")
		if conv != nil {
			if conv.UserID != "99" {
				t.Fatalf("conversation owner %q", conv.UserID)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("conversation record never created")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStreamWithoutRun(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})
	resp := env.do(t, http.MethodGet, "/chat/stream?thread_id=nope", userSession, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestStartRequiresQuery(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})
	resp := env.do(t, http.MethodPost, "/chat/question-manage", adminSession, map[string]any{"query": "  "})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestQuestionManageIsAdminOnly(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})
	resp := env.do(t, http.MethodPost, "/chat/question-manage", userSession, map[string]any{"query": "hello"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

// Interrupt is idempotent: a thread with no live run still gets OK.
func TestInterruptUnknownRun(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})
	resp := env.do(t, http.MethodPost, "/chat/interrupt", userSession, map[string]any{"thread_id": "nope"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestConversationEndpoints(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})
	qid := int64(5)
	if _, err := env.convs.Create(context.Background(), "mine", "7", &qid, "t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.convs.Create(context.Background(), "theirs", "8", nil, "t2"); err != nil {
		t.Fatal(err)
	}
	env.history.AddMessage(context.Background(), "t1", schema.UserMessage("hi"))

	var listed struct {
		Conversations []*model.Conversation `json:"conversations"`
	}
	decodeResp(t, env.do(t, http.MethodGet, "/conversation/list", userSession, nil), &listed)
	if len(listed.Conversations) != 1 || listed.Conversations[0].Title != "mine" {
		t.Fatalf("list %+v", listed.Conversations)
	}

	resp := env.do(t, http.MethodGet, "/conversation?thread_id=t1", userSession, nil)
	var got struct {
		Conversation *model.Conversation `json:"conversation"`
		Messages     []*schema.Message   `json:"messages"`
	}
	decodeResp(t, resp, &got)
	if got.Conversation == nil || len(got.Messages) != 1 {
		t.Fatalf("get %+v", got)
	}

	// Another user's conversation is invisible.
	resp = env.do(t, http.MethodGet, "/conversation?thread_id=t2", userSession, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign get: status %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPatch, "/conversation", userSession, map[string]any{"thread_id": "t1", "title": "renamed"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch: status %d", resp.StatusCode)
	}
	conv, _ := env.convs.GetByThreadID(context.Background(), "t1")
	if conv.Title != "renamed" {
		t.Fatalf("title %q", conv.Title)
	}

	resp = env.do(t, http.MethodDelete, "/conversation?thread_id=t1", userSession, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}
	if conv, _ := env.convs.GetByThreadID(context.Background(), "t1"); conv != nil {
		t.Fatal("conversation survived delete")
	}
	if n, _ := env.history.GetMessageCount(context.Background(), "t1"); n != 0 {
		t.Fatalf("history survived delete: %d messages", n)
	}
}

func TestMemoryEndpoints(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})
	ids, err := env.memories.CreateMemories(context.Background(), "7", []*model.Memory{
		{Content: "likes hints", Type: "preference"},
	})
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := env.memories.CreateMemories(context.Background(), "8", []*model.Memory{
		{Content: "not yours", Type: "preference"},
	})
	if err != nil {
		t.Fatal(err)
	}

	var listed struct {
		Memories []*model.Memory `json:"memories"`
	}
	decodeResp(t, env.do(t, http.MethodGet, "/memory/list", userSession, nil), &listed)
	if len(listed.Memories) != 1 || listed.Memories[0].Content != "likes hints" {
		t.Fatalf("list %+v", listed.Memories)
	}

	// Deleting another user's memory fails the ownership check.
	resp := env.do(t, http.MethodDelete, fmt.Sprintf("/memory?memory_id=%d", foreign[0]), userSession, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign delete: status %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodDelete, fmt.Sprintf("/memory?memory_id=%d", ids[0]), userSession, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}
}

func TestMemoryCreateIsAdminOnly(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})
	body := map[string]any{"user_id": "7", "content": "seeded fact"}

	resp := env.do(t, http.MethodPost, "/memory", userSession, body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin: status %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/memory", adminSession, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("admin: status %d", resp.StatusCode)
	}
	var created struct {
		MemoryID int64 `json:"memory_id"`
	}
	decodeResp(t, resp, &created)
	list, _ := env.memories.ListByUser(context.Background(), "7")
	if len(list) != 1 || list[0].ID != created.MemoryID || list[0].Type != "preference" {
		t.Fatalf("created %+v", list)
	}
}
