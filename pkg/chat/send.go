package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cexll/assisthub-go/pkg/apicall"
	"github.com/cexll/assisthub-go/pkg/assistant"
	"github.com/cexll/assisthub-go/pkg/model"
)

const gatewayErrorNote = "Sorry, the request could not be completed because the completion service failed."

type sendOptions struct {
	skipUserAppend bool
}

// SendOption tweaks one Send invocation.
type SendOption func(*sendOptions)

// WithSkipUserAppend prevents the pipeline from appending the user turn
// again. Edit-and-replay already persisted the revised turn.
func WithSkipUserAppend() SendOption {
	return func(o *sendOptions) { o.skipUserAppend = true }
}

// apiOutcome pairs an API config with its execution result for the
// augmentation step.
type apiOutcome struct {
	api    assistant.APIConfig
	result apicall.Result
}

// Send runs the ordinary-assistant pipeline: trigger evaluation, external
// calls, prompt augmentation, one gateway call, reply append. The reply
// text is returned; a gateway failure is also surfaced as a single
// chat-visible error note before the error returns.
func (m *Manager) Send(ctx context.Context, id, text string, attachments []model.Attachment, opts ...SendOption) (string, error) {
	var cfg sendOptions
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := m.acquire(id); err != nil {
		return "", err
	}
	defer m.release(id)

	a, err := m.Get(id)
	if err != nil {
		return "", err
	}
	systemPrompt := a.SystemPrompt
	apiEnabled := a.APICallEnabled
	apis := append([]assistant.APIConfig(nil), a.APIConfigs...)

	if !cfg.skipUserAppend {
		if err := m.AppendUser(id, text, attachments); err != nil {
			return "", err
		}
	}
	history := m.completionHistory(id)

	var outcomes []apiOutcome
	var image *apicall.Result
	if apiEnabled && m.triggers != nil && m.executor != nil {
		for _, api := range m.triggers.Detect(apis, text) {
			bag := m.triggers.ExtractParameters(ctx, text, api, history)
			res := m.executor.Execute(ctx, api, bag)
			m.log.Debug("external api executed",
				zap.String("assistant", id),
				zap.String("api", api.Name),
				zap.Bool("success", res.Success),
				zap.Int("status", res.Status))
			outcomes = append(outcomes, apiOutcome{api: api, result: res})
			if res.Success && res.Type == "image" {
				image = &res
				break
			}
		}
	}

	// An image result finalizes the turn without any gateway call.
	if image != nil {
		return m.finalizeImage(id, image.Data)
	}

	augmented := augmentPrompt(text, outcomes)
	if augmented != text && len(history) > 0 {
		last := history[len(history)-1]
		last.Content = augmented
		history[len(history)-1] = last
	}
	reply, err := m.completer.Complete(ctx, model.Request{
		Messages:     history,
		SystemPrompt: augmentSystemPrompt(systemPrompt, apis, outcomes),
	})
	if err != nil {
		if appendErr := m.AppendAssistant(id, gatewayErrorNote, ""); appendErr != nil {
			m.log.Warn("append gateway error note", zap.Error(appendErr))
		}
		return "", fmt.Errorf("chat: completion failed: %w", err)
	}
	if err := m.AppendAssistant(id, reply, ""); err != nil {
		return "", err
	}
	return reply, nil
}

// finalizeImage stores the generated image artifact and appends the turn.
func (m *Manager) finalizeImage(id, b64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("chat: decode image result: %w", err)
	}
	path, err := m.store.SaveImage(data)
	if err != nil {
		m.log.Warn("store image artifact", zap.Error(err))
	}
	const caption = "Generated an image for this request."
	m.mu.Lock()
	err = m.appendAssistantLocked(id, caption, path, []model.Attachment{{
		MimeType: "image/png",
		Data:     data,
	}})
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	return caption, nil
}

func (m *Manager) completionHistory(id string) []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := assistant.Roster(m.agents).ByID(id)
	if a == nil {
		return nil
	}
	return a.CompletionHistory()
}

// augmentPrompt appends each successful text result as a supplemental,
// user-invisible note. The display projection keeps the original text.
func augmentPrompt(text string, outcomes []apiOutcome) string {
	var notes []string
	for _, o := range outcomes {
		if o.result.Success && o.result.Type == "text" && o.result.Data != "" {
			notes = append(notes, fmt.Sprintf("[%s] %s", o.api.Name, o.result.Data))
		}
	}
	if len(notes) == 0 {
		return text
	}
	return text + "\n\nSupplemental data retrieved for this request (do not mention the retrieval):\n" + strings.Join(notes, "\n")
}

// augmentSystemPrompt describes the available information sources and this
// turn's outcome, instructing the model to use the data without revealing
// where it came from.
func augmentSystemPrompt(systemPrompt string, apis []assistant.APIConfig, outcomes []apiOutcome) string {
	if len(apis) == 0 {
		return systemPrompt
	}
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nYou have access to live information sources:\n")
	for _, api := range apis {
		b.WriteString("- ")
		b.WriteString(api.Name)
		for _, trg := range api.Triggers {
			if trg.Description != "" {
				b.WriteString(": ")
				b.WriteString(trg.Description)
				break
			}
		}
		b.WriteString("\n")
	}
	if len(outcomes) > 0 {
		b.WriteString("For this message the following lookups ran:\n")
		for _, o := range outcomes {
			status := "succeeded"
			if !o.result.Success {
				status = "failed"
			}
			fmt.Fprintf(&b, "- %s: %s\n", o.api.Name, status)
		}
	}
	b.WriteString("Incorporate retrieved data naturally. Never mention these sources, the lookups, or how the data was obtained.")
	return b.String()
}
