package review

import (
	"encoding/json"
	"regexp"
	"strings"

	"conductor/pkg/session"
)

// Output clipping limits. Reviewer feedback feeds back into developer
// prompts and planner handoffs feed into execution input, so both are
// bounded to keep prompts from growing round over round.
const (
	maxReviewFeedbackChars = 1200
	maxPlannerOutputChars  = 1500
)

var approvedWordRegex = regexp.MustCompile(`\bapproved\b`)
var needsChangesWordRegex = regexp.MustCompile(`\bneeds_changes\b`)

// extractJSONObject pulls the first JSON object out of raw text. Models often
// wrap JSON in prose or code fences; scan for each '{' and try to decode an
// object starting there.
func extractJSONObject(raw string) map[string]any {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return nil
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(cleaned), &payload); err == nil {
		return payload
	}

	for i := 0; i < len(cleaned); i++ {
		if cleaned[i] != '{' {
			continue
		}
		decoder := json.NewDecoder(strings.NewReader(cleaned[i:]))
		var candidate map[string]any
		if err := decoder.Decode(&candidate); err == nil {
			return candidate
		}
	}
	return nil
}

// parseSelector interprets selector output. Anything unparseable defaults to
// single mode so a flaky selector can never block execution.
func parseSelector(raw string) SelectorDecision {
	payload := extractJSONObject(raw)
	if payload == nil {
		return SelectorDecision{Mode: session.ModeSingle, Reason: "parse_failed; defaulting to single"}
	}

	mode := strings.ToLower(strings.TrimSpace(stringField(payload, "mode")))
	reason := strings.TrimSpace(stringField(payload, "reason"))

	if mode != string(session.ModeSingle) && mode != string(session.ModePlan) {
		mode = string(session.ModeSingle)
	}
	return SelectorDecision{Mode: session.Mode(mode), Reason: reason}
}

// parseReview interprets reviewer output. Strict JSON first; then a word scan
// for an unambiguous "approved"; otherwise approved with a note so a reviewer
// that stops emitting JSON cannot dead-loop the review.
func parseReview(raw string) Decision {
	payload := extractJSONObject(raw)
	if payload != nil {
		result := stringField(payload, "result")
		feedback := stringField(payload, "feedback")
		if result == string(session.ReviewApproved) || result == string(session.ReviewNeedsChanges) {
			return Decision{Result: session.ReviewResult(result), Feedback: strings.TrimSpace(feedback)}
		}
	}

	lowered := strings.ToLower(raw)
	if approvedWordRegex.MatchString(lowered) && !needsChangesWordRegex.MatchString(lowered) {
		return Decision{Result: session.ReviewApproved, Feedback: raw}
	}
	return Decision{
		Result:   session.ReviewApproved,
		Feedback: "reviewer_output_not_json; accepted to avoid review dead loop",
	}
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func clipFeedback(feedback string) string {
	return clipText(strings.TrimSpace(feedback), maxReviewFeedbackChars)
}

func clipPlannerOutput(plan string) string {
	return clipText(strings.TrimSpace(plan), maxPlannerOutputChars)
}

// clipText truncates on a rune boundary so multi-byte output is never cut
// mid-character.
func clipText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
