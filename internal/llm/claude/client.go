// Package claude writes emissions response briefs with the Claude API.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/plume/internal/emissions"
)

var tracer = otel.Tracer("github.com/linnemanlabs/plume/internal/llm/claude")

const (
	systemPrompt = "You are an emissions response advisor for an oil and gas operator. " +
		"Give concise, practical guidance that helps field and compliance teams " +
		"contain a methane release and meet regulatory deadlines."

	closingInstruction = "Respond with bullet points for immediate response, communications, and data to collect."

	maxTokens   = 1024
	temperature = 0.3
)

// Client implements emissions.Assistant on top of the Anthropic SDK.
type Client struct {
	sdk   anthropic.Client
	model string
}

// New creates a new Claude client. Extra request options, such as a base URL
// for tests, are passed through to the SDK.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		sdk:   anthropic.NewClient(opts...),
		model: model,
	}
}

// Brief asks the model for a response briefing on v.
func (c *Client) Brief(ctx context.Context, v *emissions.EventView, focus string) (*emissions.Brief, error) {
	ctx, span := tracer.Start(ctx, "claude.Brief", trace.WithAttributes(
		attribute.String("gen_ai.system", "anthropic"),
		attribute.String("gen_ai.request.model", c.model),
		attribute.String("plume.event.id", v.ID),
	))
	defer span.End()

	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(v, focus))),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("claude messages: %w", err)
	}

	brief := fromSDKResponse(msg)
	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", brief.Usage.InputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", brief.Usage.OutputTokens),
	)
	return brief, nil
}

// buildPrompt renders the event summary, an optional focus area and the
// requested answer shape.
func buildPrompt(v *emissions.EventView, focus string) string {
	var b strings.Builder
	for _, line := range emissions.Summary(v) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if focus = strings.TrimSpace(focus); focus != "" {
		b.WriteString("Focus area: ")
		b.WriteString(focus)
		b.WriteByte('\n')
	}
	b.WriteString(closingInstruction)
	return b.String()
}

func fromSDKResponse(msg *anthropic.Message) *emissions.Brief {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return &emissions.Brief{
		Model:   string(msg.Model),
		Content: strings.Join(parts, "\n"),
		Usage: emissions.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
}
