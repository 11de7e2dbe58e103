// Package session manages live agent runs: one bounded event queue per
// process, interrupt flags, and the post-run persistence hooks. A process is
// one thread/user pair; at most one run per process is live at a time.
package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/smart-oj/assistant-server/internal/agent/generic"
	"github.com/smart-oj/assistant-server/internal/agent/graph/conversations"
	"github.com/smart-oj/assistant-server/internal/agent/graph/events"
	"github.com/smart-oj/assistant-server/internal/agent/model"
	errx "github.com/smart-oj/assistant-server/internal/core/error"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

// QueueCapacity bounds each process's undelivered event backlog. A full
// queue blocks the producing run instead of dropping events.
const QueueCapacity = 200

// finishTimeout bounds the post-run persistence work.
const finishTimeout = 30 * time.Second

// Runner executes one agent run. Both the question-manage graph and the
// solving assistant satisfy it.
type Runner interface {
	Invoke(ctx context.Context, in model.QueryInput) (*model.AppState, error)
}

// ProcessID identifies a live run by its thread/user pair.
func ProcessID(threadID, userID string) string {
	return threadID + "-" + userID
}

// sentinel is the terminal event closing every stream. It is always the last
// value written to a queue; queues are never closed, so a racing writer can
// never panic on send.
var sentinel = events.Event{"type": "terminal"}

func isSentinel(e events.Event) bool {
	t, _ := e["type"].(string)
	return t == "terminal"
}

// ErrorEvent is the envelope delivered when a run fails.
func ErrorEvent(message string) events.Event {
	return events.Event{"type": "error", "message": message}
}

type process struct {
	queue       chan events.Event
	cancel      context.CancelFunc
	interrupted bool
}

// Manager tracks live processes and finalizes completed runs.
type Manager struct {
	mu        sync.Mutex
	processes map[string]*process

	history *conversations.Manager
	convs   model.ConversationStore
	titles  *generic.TitleGenerator
	memory  *generic.MemorySummarizer
}

// Config wires the manager's persistence collaborators. Titles and memory
// are optional enhancements; history and the conversation store are not.
type Config struct {
	History *conversations.Manager
	Convs   model.ConversationStore
	Titles  *generic.TitleGenerator
	Memory  *generic.MemorySummarizer
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		processes: make(map[string]*process),
		history:   cfg.History,
		convs:     cfg.Convs,
		titles:    cfg.Titles,
		memory:    cfg.Memory,
	}
}

// Start launches a run for the query and returns its process ID. A second
// start for the same process while one is live is rejected.
func (m *Manager) Start(runner Runner, in model.QueryInput, questionID *int64) (string, error) {
	pid := ProcessID(in.ThreadID, in.UserID)

	m.mu.Lock()
	if _, exists := m.processes[pid]; exists {
		m.mu.Unlock()
		return "", &errx.AppError{
			Err:     fmt.Errorf("process %s already running", pid),
			Status:  http.StatusConflict,
			Message: "a run is already in progress for this conversation",
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &process{
		queue:  make(chan events.Event, QueueCapacity),
		cancel: cancel,
	}
	m.processes[pid] = p
	m.mu.Unlock()

	go m.run(ctx, p, runner, in, questionID)
	return pid, nil
}

func (m *Manager) run(ctx context.Context, p *process, runner Runner, in model.QueryInput, questionID *int64) {
	defer p.cancel()

	runCtx := events.WithWriter(ctx, queueWriter{queue: p.queue})
	state, err := runner.Invoke(runCtx, in)
	if err != nil {
		logx.Error().Err(err).Str("thread_id", in.ThreadID).Msg("agent run failed")
		writeEvent(ctx, p.queue, ErrorEvent(errx.UserMessage(err)))
		writeEvent(ctx, p.queue, sentinel)
		return
	}

	m.finish(state, in, questionID)
	writeEvent(ctx, p.queue, sentinel)
}

// finish persists the run's new turns and maintains the conversation record.
// Everything here is best-effort; the client already has the answer.
func (m *Manager) finish(state *model.AppState, in model.QueryInput, questionID *int64) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	fresh := state.UnpersistedMessages()
	if err := m.history.PersistRun(ctx, state); err != nil {
		logx.Error().Err(err).Str("thread_id", state.ThreadID).Msg("failed to persist run history")
	}

	conv, err := m.convs.GetByThreadID(ctx, state.ThreadID)
	if err != nil {
		logx.Error().Err(err).Str("thread_id", state.ThreadID).Msg("conversation lookup failed")
	} else if conv == nil {
		title := in.Query
		if m.titles != nil {
			title = m.titles.Generate(ctx, in.Query, conversations.AssistantAnswer(fresh))
		}
		if _, err := m.convs.Create(ctx, title, state.UserID, questionID, state.ThreadID); err != nil {
			logx.Error().Err(err).Str("thread_id", state.ThreadID).Msg("failed to create conversation record")
		}
	} else if toucher, ok := m.convs.(interface {
		Touch(ctx context.Context, id int64) error
	}); ok {
		if err := toucher.Touch(ctx, conv.ID); err != nil {
			logx.Warn().Err(err).Int64("conversation_id", conv.ID).Msg("failed to touch conversation")
		}
	}

	if m.memory != nil {
		transcript := conversations.FormatTranscript(state.Messages)
		if err := m.memory.Summarize(ctx, state.UserID, transcript); err != nil {
			logx.Warn().Err(err).Str("user_id", state.UserID).Msg("memory summarization failed")
		}
	}
}

// Interrupt flags the process and cancels its run. Events already queued are
// still discarded by the stream side. Interrupting a process that already
// finished, or was never started, is a no-op.
func (m *Manager) Interrupt(processID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processes[processID]
	if !ok {
		return
	}
	p.interrupted = true
	p.cancel()
}

// Stream drains the process's queue, calling send for each event until the
// terminal sentinel arrives, then releases the process. After an interrupt
// the remaining backlog is drained without being sent.
func (m *Manager) Stream(ctx context.Context, processID string, send func(events.Event) error) error {
	m.mu.Lock()
	p, ok := m.processes[processID]
	m.mu.Unlock()
	if !ok {
		return &errx.AppError{
			Err:     fmt.Errorf("process %s not found", processID),
			Status:  http.StatusNotFound,
			Message: "no running process for this conversation",
		}
	}
	defer m.release(processID, p)

	for {
		select {
		case <-ctx.Done():
			// Client went away; stop the run so the producer cannot block on
			// a full queue forever.
			p.cancel()
			return ctx.Err()
		case ev := <-p.queue:
			if isSentinel(ev) {
				return nil
			}
			if m.isInterrupted(processID) {
				continue
			}
			if err := send(ev); err != nil {
				p.cancel()
				return err
			}
		}
	}
}

func (m *Manager) isInterrupted(processID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processes[processID]
	return ok && p.interrupted
}

// release removes the process registration once its stream is finished.
func (m *Manager) release(processID string, p *process) {
	p.cancel()
	m.mu.Lock()
	delete(m.processes, processID)
	m.mu.Unlock()
}

// Live reports whether a process is currently registered.
func (m *Manager) Live(processID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processes[processID]
	return ok
}

type queueWriter struct {
	queue chan events.Event
}

func (w queueWriter) Write(ctx context.Context, event events.Event) {
	writeEvent(ctx, w.queue, event)
}

func writeEvent(ctx context.Context, queue chan events.Event, event events.Event) {
	if isSentinel(event) {
		// Sentinel delivery must not be lost even when the run context is
		// already cancelled, otherwise the stream never terminates.
		select {
		case queue <- event:
		case <-time.After(finishTimeout):
			logx.Warn().Msg("no consumer drained the stream, dropping terminal event")
		}
		return
	}
	select {
	case queue <- event:
	case <-ctx.Done():
	}
}
