package prompt

import (
	"fmt"
	"strings"

	"typing-assistant/src/settings"
)

const defaultTone = "Neutral"

var lengthDescriptors = [...]string{
	"very brief (1-2 sentences)",
	"short (2-4 sentences)",
	"medium length (1-2 paragraphs)",
	"detailed (3-4 paragraphs)",
	"very detailed (5 or more paragraphs)",
}

// LengthDescriptor maps a response length tier to its wording. Tiers outside
// 1-5 clamp to the nearest tier.
func LengthDescriptor(tier int) string {
	if tier < settings.MinResponseLength {
		tier = settings.MinResponseLength
	}
	if tier > settings.MaxResponseLength {
		tier = settings.MaxResponseLength
	}
	return lengthDescriptors[tier-1]
}

// Build turns the highlighted source text and the user's settings into the
// instruction sent to the AI server.
func Build(source string, s settings.Generation) string {
	tone := strings.TrimSpace(s.Tone)
	if tone == "" {
		tone = defaultTone
	}

	var b strings.Builder
	b.WriteString("Write an original response to the text below.\n")
	fmt.Fprintf(&b, "Length: %s\n", LengthDescriptor(s.ResponseLength))
	fmt.Fprintf(&b, "Grade level: %d\n", s.GradeLevel)
	fmt.Fprintf(&b, "Tone: %s\n", tone)
	b.WriteString("Generate new content that responds to or builds on the text. Do not summarize or restate it.\n\n")
	b.WriteString("Text:\n")
	b.WriteString(strings.TrimSpace(source))
	return b.String()
}
