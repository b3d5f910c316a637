package generation

import "strings"

// ShouldRespondTemplate asks the model for a RESPOND / IGNORE / STOP verdict.
const ShouldRespondTemplate = `# Task: Decide if {{agentName}} (@{{agentHandle}}) should respond.

About {{agentName}}:
{{bio}}

Response options are RESPOND, IGNORE and STOP.

{{agentName}} should RESPOND to posts that are directed at them or that
invite a thoughtful reply. {{agentName}} should IGNORE posts that are not
interesting, not relevant, or already answered. {{agentName}} should STOP if
asked to stop or if the conversation has clearly ended.

Recent exchanges:
{{recentMessages}}

Thread of posts you are replying to:
{{conversation}}

Current post:
{{currentPost}}

Respond with [RESPOND] if {{agentName}} should respond, [IGNORE] if
{{agentName}} should not respond to the last post, and [STOP] if
{{agentName}} should stop participating in the conversation. Answer with the
option only.`

// ReplyTemplate asks the model for the reply itself.
const ReplyTemplate = `# About {{agentName}} (@{{agentHandle}}):
{{bio}}

{{timeline}}

Recent exchanges:
{{recentMessages}}

Thread of posts you are replying to:
{{conversation}}

# Task: Write a post in the voice and style of {{agentName}} aka @{{agentHandle}}.
Reply to the current post. Keep it short and specific, no hashtags.

Current post:
{{currentPost}}

Answer with a JSON block:
` + "```json" + `
{ "text": "<reply text>", "action": "<NONE | CONTINUE | IGNORE>" }
` + "```"

// Compose replaces {{key}} placeholders in tmpl with values from st.
// Unknown placeholders are left as they are.
func Compose(tmpl string, st State) string {
	vars := st.vars()
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
