package worker

import (
	"errors"
	"time"

	"github.com/kiranshivaraju/docanalyzer/internal/job"
)

// Action is what the pool does with a delivery after an attempt.
type Action int

const (
	ActionAck Action = iota
	ActionRetry
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionRetry:
		return "retry"
	case ActionFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Decision is the outcome of Decide. Delay is only set for ActionRetry.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// RetryPolicy bounds re-execution. A job gets at most MaxRetries+1 attempts.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Delay: 5 * time.Second}
}

// Decide maps the result of attempt number attempt (zero-based) to an action.
func Decide(attempt int, err error, p RetryPolicy) Decision {
	switch {
	case err == nil, errors.Is(err, job.ErrNotFound), errors.Is(err, job.ErrAlreadyTerminal):
		return Decision{Action: ActionAck}
	case job.IsPermanent(err):
		return Decision{Action: ActionFail}
	case attempt < p.MaxRetries:
		return Decision{Action: ActionRetry, Delay: p.Delay}
	default:
		return Decision{Action: ActionFail}
	}
}
