package classifier

import "strings"

const messagePlaceholder = "{message}"

// DefaultPromptTemplate frames the task, lists the risk signals to weigh and
// demands a bare JSON object. {message} is replaced with the text to judge.
const DefaultPromptTemplate = `You are a child-safety analyst. Analyze the following message sent to a minor and assess whether it shows signs of predatory behavior or grooming.

Weigh these risk signals:
- requests for personal information (address, school, phone number, photos)
- questions about age
- grooming patterns (excessive flattery, special-relationship framing, gifts)
- manipulative language
- requests to meet in person
- inappropriate or sexual content
- pressure tactics or urgency
- attempts to isolate the child from parents, friends or trusted adults

Message:
"""
{message}
"""

Respond with ONLY a JSON object and no other text, in exactly this shape:
{"status": "SAFE" | "SUSPICIOUS" | "DANGEROUS", "confidence": <number 0-100>, "reason": "<short explanation>"}`

// BuildPrompt substitutes message into template. The message is inserted
// verbatim; it is never interpreted as template syntax.
func BuildPrompt(template, message string) string {
	if template == "" {
		template = DefaultPromptTemplate
	}
	return strings.Replace(template, messagePlaceholder, message, 1)
}
