package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evetabi/betledger/internal/domain"
)

// RefundDecision is the sentinel the decision service returns when no option won.
const RefundDecision = "refund"

// Decision is the structured answer embedded in a job result.
type Decision struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Outcome is a parsed decision checked against the event: either one
// winning option or a refund, with the reason recorded for the transcript.
type Outcome struct {
	OptionID string // empty means refund
	Reason   string
	Decision *Decision
}

// Refund reports whether the outcome refunds every bet.
func (o Outcome) Refund() bool { return o.OptionID == "" }

// ParseDecision extracts the first JSON object from text.
func ParseDecision(text string) (*Decision, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, fmt.Errorf("oracle: no JSON object in result")
	}
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	var d Decision
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("oracle: decode decision: %w", err)
	}
	d.Decision = strings.TrimSpace(d.Decision)
	if d.Decision == "" {
		return nil, fmt.Errorf("oracle: empty decision")
	}
	return &d, nil
}

// Evaluate turns a raw job result into an Outcome. Anything that cannot be
// trusted (unparsable, unknown option, low confidence) becomes a refund.
func Evaluate(result string, ev *domain.EventDetail, threshold float64) Outcome {
	d, err := ParseDecision(result)
	if err != nil {
		return Outcome{Reason: err.Error()}
	}
	if strings.EqualFold(d.Decision, RefundDecision) {
		return Outcome{Reason: "oracle decided refund", Decision: d}
	}
	if d.Confidence < threshold {
		return Outcome{
			Reason:   fmt.Sprintf("confidence %.2f below threshold %.2f", d.Confidence, threshold),
			Decision: d,
		}
	}
	if ev.Option(d.Decision) == nil {
		return Outcome{Reason: fmt.Sprintf("unknown option %q", d.Decision), Decision: d}
	}
	return Outcome{OptionID: d.Decision, Reason: "decided", Decision: d}
}

// BuildPrompt renders the resolution question for an event.
func BuildPrompt(ev *domain.EventDetail) string {
	var b strings.Builder
	b.WriteString("Decide the outcome of the following prediction market.\n\n")
	fmt.Fprintf(&b, "Question: %s\n", ev.Event.Title)
	if ev.Event.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", ev.Event.Description)
	}
	fmt.Fprintf(&b, "Betting closed: %s\n", ev.Event.Deadline.UTC().Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Resolution date: %s\n\nOptions:\n", ev.Event.ResolutionDate.UTC().Format("2006-01-02 15:04 MST"))
	for _, o := range ev.Options {
		fmt.Fprintf(&b, "- id=%q: %s", o.ID, o.Text)
		if o.Value != nil && *o.Value != "" {
			fmt.Fprintf(&b, " (value %s)", *o.Value)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nAnswer with a single JSON object: ")
	b.WriteString(`{"decision": "<option id>" or "refund", "confidence": <0..1>, "reasoning": "<short>"}`)
	b.WriteString("\nAnswer \"refund\" if the outcome cannot be determined or no option matches.\n")
	return b.String()
}
