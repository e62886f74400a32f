package aireview

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const auditorPrompt = "You are an auditor for a reference-grade local business directory. " +
	"You enforce strict neutrality and policy. You NEVER browse the web and you ONLY use the provided JSON payload."

const schemaPrompt = "Return ONLY valid JSON with this schema: " +
	`{ "verdict": "PASS"|"FAIL", "confidence": number(0..1), "reasons": string[], "flags": string[] }. ` +
	"No markdown. No extra keys."

const rulesPrompt = "Evaluate whether this listing meets policy for auto-approval.\n\n" +
	"Rules:\n" +
	"- PASS only if content is neutral, factual, non-promotional.\n" +
	"- FAIL if you detect testimonials/reviews, medical claims, guarantees, pricing hype, or promotional language.\n" +
	"- FAIL if listed categories appear mismatched or unclear from provided content.\n\n" +
	"If FAIL, include actionable reasons.\n\n" +
	"JSON payload:\n"

// Anthropic reviews listings through the Anthropic messages API at
// temperature zero, so identical payloads get identical evaluations.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic builds a reviewer bound to one model version.
func NewAnthropic(apiKey, model string) *Anthropic {
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (a *Anthropic) Model() string { return a.model }

// Review sends the bounded payload and parses the strict-JSON reply.
func (a *Anthropic) Review(ctx context.Context, payload string) (Review, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   1024,
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: auditorPrompt},
			{Text: schemaPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(rulesPrompt + payload)),
		},
	})
	if err != nil {
		return Review{}, fmt.Errorf("anthropic messages call: %w", err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	review, err := parseReviewJSON(content)
	if err != nil {
		return Review{}, err
	}
	review.Model = a.model
	return review, nil
}
