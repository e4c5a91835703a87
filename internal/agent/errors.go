package agent

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyQuestion = errors.New("question is required")
	ErrConfiguration = errors.New("invalid agent configuration")
)

// ConfigurationError is returned by New when the agent cannot be built.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent configuration: %s: %v", e.Reason, e.Err)
	}
	return "agent configuration: " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func (e *ConfigurationError) Unwrap() error { return e.Err }

// StageError reports the stage an ask failed in. The cause is preserved for
// errors.Is and errors.As.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
