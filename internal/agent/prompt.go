package agent

import (
	"strings"

	"github.com/MegaGrindStone/chat-search/internal/tools"
)

const (
	promptPrefix = "Answer the following questions as best you can. You have access to the following tools:"

	formatInstructions = `Use the following format:

Question: the input question you must answer
Thought: you should always think about what to do
Action: the action to take, should be one of [{tool_names}]
Action Input: the input to the action
Observation: the result of the action
... (this Thought/Action/Action Input/Observation can repeat N times)
Thought: I now know the final answer
Final Answer: the final answer to the original input question`

	promptSuffix = `Begin!

Question: {input}
Thought:`

	observationPrefix = "Observation: "
	llmPrefix         = "Thought:"
)

var stopSequences = []string{"\n" + strings.TrimSpace(observationPrefix), "\n\t" + strings.TrimSpace(observationPrefix)}

// promptTemplate renders the static part of the prompt for the given tools. The result still carries
// the {input} placeholder.
func promptTemplate(ts []tools.Tool) string {
	descriptions := make([]string, len(ts))
	names := make([]string, len(ts))
	for i, t := range ts {
		descriptions[i] = t.Name() + ": " + t.Description()
		names[i] = t.Name()
	}

	format := strings.ReplaceAll(formatInstructions, "{tool_names}", strings.Join(names, ", "))
	return strings.Join([]string{promptPrefix, strings.Join(descriptions, "\n"), format, promptSuffix}, "\n\n")
}

// step is one completed agent iteration as it appears in the scratchpad.
type step struct {
	log         string
	observation string
}

func buildPrompt(template, input string, steps []step) string {
	var sb strings.Builder
	sb.WriteString(strings.Replace(template, "{input}", input, 1))
	for _, s := range steps {
		sb.WriteString(s.log)
		sb.WriteString("\n")
		sb.WriteString(observationPrefix)
		sb.WriteString(s.observation)
		sb.WriteString("\n")
		sb.WriteString(llmPrefix)
	}
	return sb.String()
}
