package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/valet-labs/valet/pkg/completion"
)

const (
	// classifyTemperature biases the model toward a single deterministic,
	// well-formed JSON object instead of conversational prose.
	classifyTemperature = 0.2

	// classifyMaxTokens caps the classification reply.
	classifyMaxTokens = 500
)

// classifySystem is the fixed instruction sent with every classification call.
// The examples double as a format contract: the listed inputs must classify
// to exactly these objects.
const classifySystem = `You are a command classifier for a personal assistant.
Analyze the user's command and return ONLY a JSON object with these keys:
- "type": the category of command (open_app, summarize, search, automate, email, calendar, file, task, settings, unknown)
- "action": the specific action to perform
- "target": the target application, service, or data domain (optional)
- "parameters": an object with any extracted arguments

Examples:
"summarize my emails" -> {"type":"summarize","action":"summarize_content","target":"email","parameters":{}}
"open notepad and type meeting notes" -> {"type":"open_app","action":"open_and_type","target":"notepad","parameters":{"text":"meeting notes"}}

Return only the JSON object. No prose, no markdown.`

// Resolver turns free text into a CommandIntent via the completion service.
// It is safe for concurrent use.
type Resolver struct {
	svc completion.Service
}

// NewResolver creates a Resolver backed by svc.
func NewResolver(svc completion.Service) *Resolver {
	return &Resolver{svc: svc}
}

// Resolve classifies text into a CommandIntent. It never returns an error:
//
//   - On a well-formed model reply, the parsed intent is returned with
//     RawInput set to text verbatim.
//   - On a malformed reply (bad JSON, missing type/action), the "unknown"
//     fallback is returned.
//   - On a transport failure, the "error" fallback is returned.
//
// Empty input short-circuits to the unknown fallback without a service call.
func (r *Resolver) Resolve(ctx context.Context, text string) CommandIntent {
	if strings.TrimSpace(text) == "" {
		return Fallback(text)
	}

	resp, err := r.svc.Complete(ctx, completion.Request{
		System:      classifySystem,
		Prompt:      text,
		Temperature: classifyTemperature,
		MaxTokens:   classifyMaxTokens,
	})
	if err != nil {
		slog.Warn("intent classification transport failure", "err", err)
		return TransportFallback(text)
	}

	parsed, ok := parseIntent(resp.Text)
	if !ok {
		slog.Debug("intent classification returned unparseable reply",
			"reply_len", len(resp.Text))
		return Fallback(text)
	}

	parsed.RawInput = text
	if parsed.Parameters == nil {
		parsed.Parameters = map[string]any{}
	}
	return parsed
}

// parseIntent strictly decodes the model reply as a CommandIntent. Markdown
// code fences are tolerated since some models wrap JSON despite instructions;
// anything else around the object, including trailing prose, is rejected.
// Requires non-empty type and action.
func parseIntent(reply string) (CommandIntent, bool) {
	cleaned := stripFences(strings.TrimSpace(reply))

	var in CommandIntent
	if err := json.Unmarshal([]byte(cleaned), &in); err != nil {
		return CommandIntent{}, false
	}
	if in.Type == "" || in.Action == "" {
		return CommandIntent{}, false
	}
	return in, true
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the language tag line ("json", "javascript", or empty).
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
