package services

// LLMParameters holds the optional sampling parameters shared by the LLM providers. Nil fields are left to
// the provider's defaults.
type LLMParameters struct {
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"topP"`
	MaxTokens   *int     `yaml:"maxTokens"`
	Seed        *int     `yaml:"seed"`
}
