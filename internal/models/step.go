package models

// StepKind is the type of an intermediate agent event.
type StepKind string

const (
	// StepThought is a piece of reasoning that did not lead to a tool call, e.g. unparseable output.
	StepThought StepKind = "thought"
	// StepAction is a tool invocation decided by the agent.
	StepAction StepKind = "action"
	// StepObservation is the output of a tool, or the feedback given for a malformed response.
	StepObservation StepKind = "observation"
	// StepFinal carries the final answer of a run.
	StepFinal StepKind = "final"
)

// Step is one event of an agent run, streamed to the UI while the agent works.
type Step struct {
	Kind StepKind

	// Text holds the thought, observation, or final answer depending on Kind.
	Text string

	// Tool and ToolInput would be filled if Kind is StepAction or StepObservation.
	Tool      string
	ToolInput string
}
