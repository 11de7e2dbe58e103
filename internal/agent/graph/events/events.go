// Package events carries the client-facing event stream through a graph run.
// Nodes fetch the writer from the context and emit progress and content
// envelopes; the session layer installs a writer backed by its bounded queue.
package events

import (
	"context"
	"time"
)

const (
	ActionEntry  = "entry"
	ActionFinish = "finish"

	timeLayout = "2006-01-02 15:04:05"
)

// Event is one client-visible envelope. The concrete shape varies by type
// ("assistant", "node_call_log", "tool_call_result"), so it stays a map and
// is marshalled as-is onto the wire.
type Event map[string]any

// Writer accepts events for delivery to the client. Write blocks when the
// delivery queue is full (backpressure, not loss) and returns once the event
// is enqueued or the run's context is cancelled.
type Writer interface {
	Write(ctx context.Context, event Event)
}

type ctxKey struct{}

// WithWriter installs the event writer for a graph run.
func WithWriter(ctx context.Context, w Writer) context.Context {
	return context.WithValue(ctx, ctxKey{}, w)
}

// Emit sends an event to the run's writer. Runs without an installed writer
// (unit tests, direct invocations) drop events silently.
func Emit(ctx context.Context, event Event) {
	w, ok := ctx.Value(ctxKey{}).(Writer)
	if !ok || w == nil {
		return
	}
	w.Write(ctx, event)
}

// NodeCallLog is the progress envelope bracketing a node invocation.
func NodeCallLog(name, description, action string) Event {
	e := Event{
		"type":        "node_call_log",
		"name":        name,
		"action":      action,
		"description": description,
	}
	now := time.Now().Format(timeLayout)
	switch action {
	case ActionEntry:
		e["entried_time"] = now
	case ActionFinish:
		e["finished_time"] = now
	}
	return e
}

// AssistantChunk is one piece of model output attributed to a node.
func AssistantChunk(content, id, node string) Event {
	return Event{
		"content": content,
		"id":      id,
		"node":    node,
		"type":    "assistant",
	}
}

// ToolCall announces a tool invocation the model requested.
func ToolCall(name, arguments string) Event {
	return Event{
		"type": "tool_call",
		"name": name,
		"args": arguments,
	}
}

// ToolCallResult carries the outcome of one tool invocation.
func ToolCallResult(name, result string) Event {
	return Event{
		"type":   "tool_call_result",
		"name":   name,
		"result": result,
	}
}
