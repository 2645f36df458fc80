// Package respond produces short natural-language explanations of resolved
// intents for user display.
//
// Explanation text is cosmetic: a missing explanation must never block command
// recording, so every failure path degrades to a fixed fallback sentence
// instead of returning an error.
package respond

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/valet-labs/valet/internal/intent"
	"github.com/valet-labs/valet/pkg/completion"
)

const (
	// explainTemperature favours variety; this is user-facing prose, not a
	// parsed structure.
	explainTemperature = 0.7

	// explainMaxTokens caps the general explanation.
	explainMaxTokens = 150

	// automationMaxTokens caps the longer automation explanation.
	automationMaxTokens = 200
)

// fallbackText is returned whenever the completion service cannot produce an
// explanation.
const fallbackText = "I've processed your command and it's ready to go."

// Generator asks the completion service for explanation text. It is a pure
// function of the intent, stateless, and safe for concurrent use. It performs
// a single attempt per call; retry policy belongs to the caller.
type Generator struct {
	svc completion.Service
}

// NewGenerator creates a Generator backed by svc.
func NewGenerator(svc completion.Service) *Generator {
	return &Generator{svc: svc}
}

// Generate produces display text for in, dispatching automation intents to
// the longer trigger/action/benefit form. Never returns an error.
func (g *Generator) Generate(ctx context.Context, in intent.CommandIntent) string {
	if in.Type == intent.TypeAutomate {
		return g.ExplainAutomation(ctx, in)
	}
	return g.Explain(ctx, in)
}

// Explain produces a short explanation of the resolved intent.
func (g *Generator) Explain(ctx context.Context, in intent.CommandIntent) string {
	prompt := fmt.Sprintf(
		"The user said: %q.\nIt was understood as: type=%s action=%s target=%s.\n"+
			"In one or two friendly sentences, tell the user what will happen.",
		in.RawInput, in.Type, in.Action, in.Target,
	)
	return g.complete(ctx, prompt, explainMaxTokens)
}

// ExplainAutomation produces a longer explanation for automate-typed intents,
// covering the automation's trigger, action, and benefit.
func (g *Generator) ExplainAutomation(ctx context.Context, in intent.CommandIntent) string {
	prompt := fmt.Sprintf(
		"The user set up an automation: %q (action=%s target=%s parameters=%v).\n"+
			"Briefly describe the automation's trigger, what action it performs, "+
			"and how it benefits the user.",
		in.RawInput, in.Action, in.Target, in.Parameters,
	)
	return g.complete(ctx, prompt, automationMaxTokens)
}

func (g *Generator) complete(ctx context.Context, prompt string, maxTokens int) string {
	resp, err := g.svc.Complete(ctx, completion.Request{
		Prompt:      prompt,
		Temperature: explainTemperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		slog.Warn("explanation generation failed, using fallback", "err", err)
		return fallbackText
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return fallbackText
	}
	return text
}
