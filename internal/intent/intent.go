// Package intent maps free-text commands to structured intents using a
// completion service.
//
// Resolution never fails from the caller's point of view: a malformed model
// reply degrades to an "unknown" intent and an unreachable service degrades
// to an "error" intent. The two cases stay distinguishable because downstream
// consumers key off the intent type to decide how to react.
package intent

// Well-known intent types. The model is free to return other values; these
// are the ones valet itself produces or branches on.
const (
	TypeOpenApp   = "open_app"
	TypeSummarize = "summarize"
	TypeSearch    = "search"
	TypeAutomate  = "automate"
	TypeError     = "error"
	TypeUnknown   = "unknown"
)

// Actions used by the resolver's fallback intents.
const (
	ActionProcessText = "process_text"
	ActionReportError = "report_error"
)

// CommandIntent is the structured classification of a free-text command.
type CommandIntent struct {
	// Type is the coarse category (open_app, summarize, search, automate,
	// error, unknown, ...).
	Type string `json:"type"`

	// Action is the specific operation within the type.
	Action string `json:"action"`

	// Target is the subject of the action: an application, service, or data
	// domain. May be empty.
	Target string `json:"target,omitempty"`

	// Parameters holds free-form structured arguments extracted from the
	// utterance.
	Parameters map[string]any `json:"parameters"`

	// RawInput is the original text, preserved verbatim regardless of how
	// classification went. Always populated.
	RawInput string `json:"rawInput"`
}

// Fallback builds the intent returned when the model's reply cannot be parsed.
// The input text survives both as RawInput and as a parameter so downstream
// consumers can still act on it.
func Fallback(text string) CommandIntent {
	return CommandIntent{
		Type:       TypeUnknown,
		Action:     ActionProcessText,
		Parameters: map[string]any{"text": text},
		RawInput:   text,
	}
}

// TransportFallback builds the intent returned when the completion service
// itself is unreachable or errors.
func TransportFallback(text string) CommandIntent {
	return CommandIntent{
		Type:       TypeError,
		Action:     ActionReportError,
		Parameters: map[string]any{"error": "Failed to process command"},
		RawInput:   text,
	}
}
