// Package anthropic implements the completion gateway on top of the
// official Anthropic SDK.
package anthropic

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	modelpkg "github.com/cexll/assisthub-go/pkg/model"
	"github.com/cexll/assisthub-go/pkg/telemetry"
)

const defaultMaxTokens = 4096

// Ensure Completer implements the gateway interface.
var _ modelpkg.Completer = (*Completer)(nil)

// Completer wraps the official Anthropic SDK.
type Completer struct {
	client    *anthropicsdk.Client
	model     anthropicsdk.Model
	maxTokens int
}

// New creates a gateway backed by the official Anthropic SDK.
func New(apiKey, model string, maxTokens int) *Completer {
	return NewWithBaseURL(apiKey, model, "", maxTokens)
}

// NewWithBaseURL creates a gateway with custom base URL support.
func NewWithBaseURL(apiKey, model, baseURL string, maxTokens int) *Completer {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropicsdk.NewClient(opts...)
	return &Completer{
		client:    &client,
		model:     anthropicsdk.Model(model),
		maxTokens: maxTokens,
	}
}

// Complete performs one blocking messages call.
func (c *Completer) Complete(ctx context.Context, req modelpkg.Request) (_ string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "model.anthropic.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", "anthropic"),
			attribute.String("llm.model", string(c.model)),
			attribute.Int("llm.messages", len(req.Messages)),
		)...),
	)
	defer telemetry.EndSpan(span, err)

	maxTokens := c.maxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropicsdk.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(req.Messages),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.SystemPrompt}}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic sdk call: %w", err)
	}

	var b strings.Builder
	for _, block := range message.Content {
		if variant, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			b.WriteString(variant.Text)
		}
	}
	return b.String(), nil
}

func convertMessages(messages []modelpkg.Message) []anthropicsdk.MessageParam {
	params := make([]anthropicsdk.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if strings.ToLower(msg.Role) == modelpkg.RoleAssistant {
			params = append(params, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content)))
			continue
		}
		blocks := []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(msg.Content)}
		for _, att := range msg.Attachments {
			if !strings.HasPrefix(att.MimeType, "image/") || len(att.Data) == 0 {
				continue
			}
			blocks = append(blocks, anthropicsdk.NewImageBlockBase64(
				att.MimeType, base64.StdEncoding.EncodeToString(att.Data)))
		}
		params = append(params, anthropicsdk.NewUserMessage(blocks...))
	}
	if len(params) == 0 {
		params = append(params, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock("")))
	}
	return params
}
