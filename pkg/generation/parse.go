package generation

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/cpunion/cast-bot/pkg/types"
)

var (
	bracketPattern   = regexp.MustCompile(`(?i)\[(RESPOND|IGNORE|STOP)\]`)
	verdictPattern   = regexp.MustCompile(`(?i)\b(RESPOND|IGNORE|STOP)\b`)
	jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
)

// ParseVerdict extracts the verdict from model output, preferring the
// bracketed form. Output without one is treated as IGNORE.
func ParseVerdict(text string) types.Verdict {
	m := bracketPattern.FindStringSubmatch(text)
	if m == nil {
		m = verdictPattern.FindStringSubmatch(text)
	}
	if m == nil {
		return types.VerdictIgnore
	}
	return types.Verdict(strings.ToUpper(m[1]))
}

type replyJSON struct {
	Text   string `json:"text"`
	Action string `json:"action"`
}

// ParseReply extracts reply content from model output. A fenced JSON block
// or a bare JSON object is preferred; otherwise the whole output is used as
// the reply text.
func ParseReply(text string) types.Content {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Content{}
	}

	var candidates []string
	if m := jsonBlockPattern.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}
	for _, c := range candidates {
		var r replyJSON
		if err := json.Unmarshal([]byte(c), &r); err == nil && (r.Text != "" || r.Action != "") {
			return types.Content{
				Text:   strings.TrimSpace(r.Text),
				Action: normalizeAction(r.Action),
			}
		}
	}

	// Plain text reply; drop a stray code fence if present.
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return types.Content{Text: strings.TrimSpace(text), Action: types.ActionNone}
}

func normalizeAction(a string) string {
	a = strings.ToUpper(strings.TrimSpace(a))
	if a == "" {
		return types.ActionNone
	}
	return a
}
