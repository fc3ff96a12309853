package llm

import "errors"

var (
	ErrNoAPIKeys    = errors.New("no LLM API key configured")
	ErrMissingModel = errors.New("missing model for LLM provider")
)
