package models

import "strings"

// Transcript is the ordered list of chat turns of one UI session.
type Transcript []Message

// Question renders the transcript as the agent input, one "role: content" line per turn.
func (t Transcript) Question() string {
	var sb strings.Builder
	for i, msg := range t {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(string(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
	}
	return sb.String()
}

