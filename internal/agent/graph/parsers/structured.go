// Package parsers decodes model output into typed structures. Decoding
// failure is a distinct error kind from a transport failure: callers retry it
// a bounded number of times by re-asking the model, then fail safe.
package parsers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	errx "github.com/smart-oj/assistant-server/internal/core/error"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

// MaxDecodeAttempts bounds how many model responses are tried per decode
// before the failure surfaces.
const MaxDecodeAttempts = 3

// basic safety limit to avoid pathological inputs
const maxContentLen = 128 * 1024

const reaskInstruction = "The previous reply could not be decoded as the required JSON object. " +
	"Reply again with only the JSON object, no prose and no code fences."

// Decode extracts a JSON object of type T from model content. It tolerates
// surrounding prose and markdown code fences. Failures carry errx.ErrDecode.
func Decode[T any](content string) (*T, error) {
	if len(content) > maxContentLen {
		content = content[:maxContentLen]
	}
	body, err := extractJSONObject(content)
	if err != nil {
		return nil, errx.NewDecode(err)
	}
	var v T
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&v); err != nil {
		return nil, errx.NewDecode(fmt.Errorf("unmarshal: %w", err))
	}
	return &v, nil
}

// Ask invokes the model and decodes the response as T. On a decoding failure
// it appends the bad reply plus a re-ask instruction and tries again, up to
// MaxDecodeAttempts responses total. Transport errors propagate untouched.
func Ask[T any](ctx context.Context, cm einomodel.BaseChatModel, messages []*schema.Message) (*T, error) {
	msgs := make([]*schema.Message, len(messages))
	copy(msgs, messages)

	var lastErr error
	for attempt := 1; attempt <= MaxDecodeAttempts; attempt++ {
		resp, err := cm.Generate(ctx, msgs)
		if err != nil {
			return nil, err
		}
		v, derr := Decode[T](resp.Content)
		if derr == nil {
			return v, nil
		}
		lastErr = derr
		logx.Warn().
			Err(derr).
			Int("attempt", attempt).
			Msg("structured output decode failed, re-asking model")
		msgs = append(msgs, resp, schema.UserMessage(reaskInstruction))
	}
	return nil, lastErr
}

// Extract decodes a T from free text, falling back to asking parserModel to
// pull the JSON out when direct decoding fails.
func Extract[T any](ctx context.Context, parserModel einomodel.BaseChatModel, systemPrompt, content string) (*T, error) {
	if v, err := Decode[T](content); err == nil {
		return v, nil
	}
	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("Extract the JSON object of the required schema from the following text:\n" + content),
	}
	return Ask[T](ctx, parserModel, msgs)
}

// extractJSONObject returns the outermost {...} span, stripping markdown
// fences first.
func extractJSONObject(content string) (string, error) {
	s := strings.TrimSpace(content)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in content")
	}
	return s[start : end+1], nil
}
