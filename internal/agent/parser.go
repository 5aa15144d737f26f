package agent

import (
	"regexp"
	"strings"
)

const finalAnswerAction = "Final Answer:"

const (
	missingActionAfterThought     = "Invalid Format: Missing 'Action:' after 'Thought:'"
	missingActionInputAfterAction = "Invalid Format: Missing 'Action Input:' after 'Action:'"
	invalidResponse               = "Invalid or incomplete response"
)

var (
	actionPattern      = regexp.MustCompile(`(?s)Action\s*\d*\s*:[\s]*(.*?)[\s]*Action\s*\d*\s*Input\s*\d*\s*:[\s]*(.*)`)
	actionOnlyPattern  = regexp.MustCompile(`(?s)Action\s*\d*\s*:[\s]*(.*?)`)
	actionInputPattern = regexp.MustCompile(`(?s)[\s]*Action\s*\d*\s*Input\s*\d*\s*:[\s]*(.*)`)
)

// parsed is the decision extracted from one LLM completion: either a tool call or a final answer.
type parsed struct {
	final     bool
	answer    string
	tool      string
	toolInput string
	log       string
}

// parseError describes LLM output that follows neither the action nor the final-answer format.
type parseError struct {
	msg string
	// observation is what the model is told about its mistake.
	observation string
	output      string
}

func (e *parseError) Error() string {
	return e.msg
}

func parseOutput(text string) (parsed, error) {
	includesAnswer := strings.Contains(text, finalAnswerAction)

	if m := actionPattern.FindStringSubmatch(text); m != nil {
		if includesAnswer {
			return parsed{}, &parseError{
				msg:         "Parsing LLM output produced both a final answer and a parse-able action: " + text,
				observation: invalidResponse,
				output:      text,
			}
		}
		action := strings.TrimSpace(m[1])
		input := strings.Trim(strings.Trim(strings.TrimSpace(m[2]), " "), `"`)
		return parsed{tool: action, toolInput: input, log: text}, nil
	}

	if includesAnswer {
		parts := strings.Split(text, finalAnswerAction)
		return parsed{final: true, answer: strings.TrimSpace(parts[len(parts)-1]), log: text}, nil
	}

	if !actionOnlyPattern.MatchString(text) {
		return parsed{}, &parseError{
			msg:         "Could not parse LLM output: `" + text + "`",
			observation: missingActionAfterThought,
			output:      text,
		}
	}
	if !actionInputPattern.MatchString(text) {
		return parsed{}, &parseError{
			msg:         "Could not parse LLM output: `" + text + "`",
			observation: missingActionInputAfterAction,
			output:      text,
		}
	}
	return parsed{}, &parseError{
		msg:         "Could not parse LLM output: `" + text + "`",
		observation: invalidResponse,
		output:      text,
	}
}
