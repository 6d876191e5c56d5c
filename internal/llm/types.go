package llm

import "strings"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Request is a single completion request. Narration and adjudication both run
// as one-shot system prompts, so there is no tool or streaming surface here.
type Request struct {
	Provider    string
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   int
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return &ConfigurationError{Message: "model is required"}
	}
	if len(r.Messages) == 0 {
		return &ConfigurationError{Message: "at least one message is required"}
	}
	return nil
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

type Response struct {
	Provider string
	Model    string
	Text     string
	Usage    Usage
}
