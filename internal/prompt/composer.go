// Package prompt assembles the system prompt a session sends to the
// remote agent in its one-time init message.
package prompt

import "strings"

// verbatimInstruction precedes the configured opening line. The agent
// must speak the line exactly as written.
const verbatimInstruction = "Open the conversation with exactly the following line, word for word. Do not paraphrase, shorten or translate it:"

// Sections are the inputs to one composed prompt: global policy text,
// the role-specific prompt, per-candidate resume context, and an
// optional mandatory opening line.
type Sections struct {
	Policy string
	Role   string
	Resume string
	Opener string
}

// Compose concatenates the sections into the final prompt. Empty
// sections are skipped; the opener, when present, is wrapped in the
// verbatim instruction.
func (s Sections) Compose() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{s.Policy, s.Role, s.Resume} {
		if t := strings.TrimSpace(p); t != "" {
			parts = append(parts, t)
		}
	}
	if t := strings.TrimSpace(s.Opener); t != "" {
		parts = append(parts, verbatimInstruction+"\n"+t)
	}
	return strings.Join(parts, "\n\n")
}
