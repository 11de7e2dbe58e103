// Package prompts loads system prompt texts from a directory tree and renders
// them with question metadata. A file prompts/question_manage/test.md becomes
// key "question_manage.test"; rendering goes through the Eino prompt component
// so prompt callbacks fire for observability.
package prompts

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/smart-oj/assistant-server/internal/agent/model"
)

var promptSuffixes = map[string]bool{
	".txt":    true,
	".md":     true,
	".prompt": true,
}

// Manager holds all prompt texts keyed by their dotted path.
type Manager struct {
	prompts map[string]string
}

// Load walks dir and reads every prompt file into the manager.
func Load(dir string) (*Manager, error) {
	m := &Manager{prompts: make(map[string]string)}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !promptSuffixes[filepath.Ext(path)] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(rel, filepath.Ext(rel))
		key = strings.ReplaceAll(key, string(os.PathSeparator), ".")
		m.prompts[key] = strings.TrimSpace(string(b))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load prompts from %s: %w", dir, err)
	}
	return m, nil
}

// NewManager builds a manager from an in-memory key→text map. Used by tests
// and by callers that assemble prompts programmatically.
func NewManager(prompts map[string]string) *Manager {
	cp := make(map[string]string, len(prompts))
	for k, v := range prompts {
		cp[k] = strings.TrimSpace(v)
	}
	return &Manager{prompts: cp}
}

// Get returns the raw prompt text for a key.
func (m *Manager) Get(key string) (string, error) {
	p, ok := m.prompts[key]
	if !ok {
		return "", fmt.Errorf("prompt %q not found", key)
	}
	return p, nil
}

// Keys lists all loaded prompt keys.
func (m *Manager) Keys() []string {
	keys := make([]string, 0, len(m.prompts))
	for k := range m.prompts {
		keys = append(keys, k)
	}
	return keys
}

// Render formats the prompt identified by key with the given variables.
// A variable referenced by the template but absent from vars is an error:
// a node must not run with a half-rendered system prompt.
func (m *Manager) Render(ctx context.Context, key string, vars map[string]any) (string, error) {
	raw, err := m.Get(key)
	if err != nil {
		return "", err
	}
	tpl, err := template.New(key).Option("missingkey=error").Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse prompt %q: %w", key, err)
	}
	var sb strings.Builder
	if err := tpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", key, err)
	}
	return emitPromptCallbacks(ctx, sb.String())
}

// RenderMetadata formats a prompt with the fields of the question metadata.
func (m *Manager) RenderMetadata(ctx context.Context, key string, meta *model.QuestionMetadata) (string, error) {
	if meta == nil {
		return "", fmt.Errorf("prompt %q requires question metadata", key)
	}
	return m.Render(ctx, key, MetadataVars(meta))
}

// MetadataVars exposes question metadata under the field names prompt
// templates use.
func MetadataVars(meta *model.QuestionMetadata) map[string]any {
	languages := make([]string, 0, len(meta.Languages))
	for _, l := range meta.Languages {
		if l.IsDeleted {
			continue
		}
		languages = append(languages, fmt.Sprintf("%s %s", l.Name, l.Version))
	}
	return map[string]any{
		"question_id":          meta.QuestionID,
		"question_title":       meta.QuestionTitle,
		"question_description": meta.QuestionDescription,
		"question_difficulty":  meta.QuestionDifficulty,
		"question_tags":        strings.Join(meta.QuestionTags, ", "),
		"languages":            strings.Join(languages, ", "),
	}
}

// emitPromptCallbacks routes the rendered prompt through an Eino prompt
// component with a messages placeholder, so prompt observers see it.
func emitPromptCallbacks(ctx context.Context, content string) (string, error) {
	tpl := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("system_messages", false),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"system_messages": []*schema.Message{schema.SystemMessage(content)},
	})
	if err != nil {
		return "", fmt.Errorf("prompt callbacks: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("prompt callbacks: empty result")
	}
	return msgs[0].Content, nil
}
