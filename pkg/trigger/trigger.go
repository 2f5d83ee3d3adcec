// Package trigger decides which of an assistant's external APIs a user
// message activates, and assembles the parameter bag for each call.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cexll/assisthub-go/pkg/assistant"
	"github.com/cexll/assisthub-go/pkg/model"
)

// Engine evaluates triggers and extracts call parameters. The completer is
// only used when an API declares parameterExtraction specs.
type Engine struct {
	completer model.Completer
	log       *zap.Logger

	mu    sync.Mutex
	cache map[string]*regexp.Regexp // compiled pattern triggers, nil entry on compile error
}

// NewEngine builds an Engine. A nil logger disables logging.
func NewEngine(completer model.Completer, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		completer: completer,
		log:       log,
		cache:     make(map[string]*regexp.Regexp),
	}
}

// Detect returns every API whose trigger list matches message. APIs are
// evaluated independently, so zero or more may be returned; within one API
// the first matching trigger wins.
func (e *Engine) Detect(apis []assistant.APIConfig, message string) []assistant.APIConfig {
	var matched []assistant.APIConfig
	for _, api := range apis {
		if len(api.Triggers) == 0 {
			continue
		}
		for _, trg := range api.Triggers {
			if e.matches(trg, message) {
				matched = append(matched, api)
				break
			}
		}
	}
	return matched
}

func (e *Engine) matches(trg assistant.Trigger, message string) bool {
	switch trg.Type {
	case assistant.TriggerKeyword:
		lower := strings.ToLower(message)
		for _, kw := range strings.Split(trg.Value, ",") {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(lower, kw) {
				return true
			}
		}
		return false
	case assistant.TriggerPattern:
		re := e.compile(trg.Value)
		return re != nil && re.FindStringIndex(message) != nil
	default:
		return false
	}
}

// compile caches compiled patterns. A pattern that fails to compile is
// logged once and permanently treated as non-matching.
func (e *Engine) compile(pattern string) *regexp.Regexp {
	e.mu.Lock()
	defer e.mu.Unlock()
	if re, ok := e.cache[pattern]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		e.log.Warn("trigger pattern does not compile",
			zap.String("pattern", pattern), zap.Error(err))
		re = nil
	}
	e.cache[pattern] = re
	return re
}

const extractionPrompt = `Extract the following parameters from the user message.
Respond with a strict JSON object containing exactly these keys and nothing else.
Parameters:
%s
User message:
%s`

// ExtractParameters builds the parameter bag for one triggered API. Without
// extraction specs it returns the default bag directly; otherwise it issues
// a single completion call and falls back to the default bag whenever the
// reply does not contain a parseable JSON object. The bag is always
// annotated with originalMessage and, when history is supplied, with the
// two provider-friendly history shapes.
func (e *Engine) ExtractParameters(ctx context.Context, message string, api assistant.APIConfig, history []model.Message) map[string]any {
	bag := e.defaultBag(message, api)
	if len(api.ParameterExtraction) > 0 && e.completer != nil {
		if extracted := e.extract(ctx, message, api); extracted != nil {
			for k, v := range extracted {
				bag[k] = v
			}
		}
	}
	bag["originalMessage"] = message
	if len(history) > 0 {
		bag["messages"] = flatHistory(history)
		bag["contents"] = partsHistory(history)
	}
	return bag
}

func (e *Engine) defaultBag(message string, api assistant.APIConfig) map[string]any {
	bag := map[string]any{"prompt": message}
	if api.AuthType == assistant.AuthBearer && api.Auth.Token != "" {
		bag["apiKey"] = api.Auth.Token
	}
	return bag
}

func (e *Engine) extract(ctx context.Context, message string, api assistant.APIConfig) map[string]any {
	var specs strings.Builder
	for _, p := range api.ParameterExtraction {
		specs.WriteString("- ")
		specs.WriteString(p.Name)
		if p.Description != "" {
			specs.WriteString(": ")
			specs.WriteString(p.Description)
		}
		specs.WriteString("\n")
	}
	reply, err := e.completer.Complete(ctx, model.Request{
		Messages: []model.Message{model.UserMessage(
			fmt.Sprintf(extractionPrompt, specs.String(), message),
		)},
	})
	if err != nil {
		e.log.Warn("parameter extraction call failed",
			zap.String("api", api.Name), zap.Error(err))
		return nil
	}
	obj := findJSONObject(reply)
	if obj == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return nil
	}
	return out
}

// findJSONObject returns the outermost {...} span of s, or "".
func findJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// flatHistory renders history as role/content pairs.
func flatHistory(history []model.Message) []map[string]any {
	out := make([]map[string]any, 0, len(history))
	for _, m := range history {
		out = append(out, map[string]any{"role": m.Role, "content": m.Content})
	}
	return out
}

// partsHistory renders history in the parts-based shape some providers use.
func partsHistory(history []model.Message) []map[string]any {
	out := make([]map[string]any, 0, len(history))
	for _, m := range history {
		out = append(out, map[string]any{
			"role":  m.Role,
			"parts": []map[string]any{{"text": m.Content}},
		})
	}
	return out
}
