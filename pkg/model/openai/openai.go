// Package openai implements the completion gateway on top of the official
// OpenAI SDK.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	modelpkg "github.com/cexll/assisthub-go/pkg/model"
	"github.com/cexll/assisthub-go/pkg/telemetry"
)

// Ensure Completer implements the gateway interface.
var _ modelpkg.Completer = (*Completer)(nil)

// Completer wraps the official OpenAI SDK.
type Completer struct {
	client    openaisdk.Client
	model     openaisdk.ChatModel
	maxTokens int
}

// New creates a gateway backed by the official OpenAI SDK.
func New(apiKey, model string, maxTokens int) *Completer {
	return NewWithBaseURL(apiKey, model, "", maxTokens)
}

// NewWithBaseURL creates a gateway with custom base URL support.
func NewWithBaseURL(apiKey, model, baseURL string, maxTokens int) *Completer {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Completer{
		client:    openaisdk.NewClient(opts...),
		model:     openaisdk.ChatModel(model),
		maxTokens: maxTokens,
	}
}

// Complete performs one blocking chat completion call.
func (c *Completer) Complete(ctx context.Context, req modelpkg.Request) (_ string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "model.openai.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", "openai"),
			attribute.String("llm.model", string(c.model)),
			attribute.Int("llm.messages", len(req.Messages)),
		)...),
	)
	defer telemetry.EndSpan(span, err)

	params := openaisdk.ChatCompletionNewParams{
		Messages: convertMessages(req),
		Model:    c.model,
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(c.maxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai sdk call: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("openai response contains no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

func convertMessages(req modelpkg.Request) []openaisdk.ChatCompletionMessageParamUnion {
	params := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		sys := openaisdk.ChatCompletionSystemMessageParam{}
		sys.Content.OfString = openaisdk.String(req.SystemPrompt)
		params = append(params, openaisdk.ChatCompletionMessageParamUnion{OfSystem: &sys})
	}
	for _, msg := range req.Messages {
		switch strings.ToLower(msg.Role) {
		case modelpkg.RoleAssistant:
			asst := openaisdk.ChatCompletionAssistantMessageParam{}
			asst.Content.OfString = openaisdk.String(msg.Content)
			params = append(params, openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		default:
			params = append(params, buildUserMessage(msg))
		}
	}
	if len(params) == 0 {
		user := openaisdk.ChatCompletionUserMessageParam{}
		user.Content.OfString = openaisdk.String("")
		params = append(params, openaisdk.ChatCompletionMessageParamUnion{OfUser: &user})
	}
	return params
}

// buildUserMessage renders attachments as data-URL image parts; anything
// that is not an image degrades to the text segment alone.
func buildUserMessage(msg modelpkg.Message) openaisdk.ChatCompletionMessageParamUnion {
	user := openaisdk.ChatCompletionUserMessageParam{}
	images := imageAttachments(msg.Attachments)
	if len(images) == 0 {
		user.Content.OfString = openaisdk.String(msg.Content)
		return openaisdk.ChatCompletionMessageParamUnion{OfUser: &user}
	}
	parts := []openaisdk.ChatCompletionContentPartUnionParam{{
		OfText: &openaisdk.ChatCompletionContentPartTextParam{Text: msg.Content},
	}}
	for _, att := range images {
		url := fmt.Sprintf("data:%s;base64,%s", att.MimeType, base64.StdEncoding.EncodeToString(att.Data))
		parts = append(parts, openaisdk.ChatCompletionContentPartUnionParam{
			OfImageURL: &openaisdk.ChatCompletionContentPartImageParam{
				ImageURL: openaisdk.ChatCompletionContentPartImageImageURLParam{URL: url},
			},
		})
	}
	user.Content.OfArrayOfContentParts = parts
	return openaisdk.ChatCompletionMessageParamUnion{OfUser: &user}
}

func imageAttachments(attachments []modelpkg.Attachment) []modelpkg.Attachment {
	var out []modelpkg.Attachment
	for _, att := range attachments {
		if strings.HasPrefix(att.MimeType, "image/") && len(att.Data) > 0 {
			out = append(out, att)
		}
	}
	return out
}
