package agent

import "errors"

// Error is a failure of the agent itself, as opposed to a failure of the LLM provider or a tool. Its
// message is meant for the user and is appended to the transcript verbatim.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrMissingAPIKey is returned by LLM factories when neither the session nor the configuration supplies
// an API key.
var ErrMissingAPIKey = errors.New("API key is required, enter it in the settings")
