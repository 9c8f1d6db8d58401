// Package remote provides the transports the execution tracker reports
// guide progress through.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRejected is returned when the remote side answered without success.
var ErrRejected = errors.New("remote rejected the request")

// Remote is the collaborator that records flow executions.
type Remote interface {
	StartExecution(ctx context.Context, flowID string, session SessionContext) (string, error)
	UpdateProgress(ctx context.Context, executionID string, u ProgressUpdate) error
	CompleteExecution(ctx context.Context, executionID string) error
	AbandonExecution(ctx context.Context, executionID string, a Abandonment) error
	Close() error
}

// SessionContext describes where a flow is played.
type SessionContext struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// ProgressUpdate reports one finished step.
type ProgressUpdate struct {
	StepID   string `json:"stepId"`
	Position int    `json:"position"`
	Status   string `json:"status"`
}

// Abandonment reports a stopped execution.
type Abandonment struct {
	Status       string `json:"status"`
	Details      string `json:"details,omitempty"`
	LastStepID   string `json:"lastStepId,omitempty"`
	LastPosition int    `json:"lastPosition,omitempty"`
}

type startRequest struct {
	FlowID  string         `json:"flowId"`
	Session SessionContext `json:"session"`
}

type startResponse struct {
	ExecutionID string `json:"executionId"`
}

type result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (r result) err() error {
	if r.Success {
		return nil
	}
	if r.Error != "" {
		return fmt.Errorf("%w: %s", ErrRejected, r.Error)
	}
	return ErrRejected
}

// Config defines the necessary parameters to make a new remote.
type Config struct {
	Type RemoteType `yaml:"type" env:"GOGUIDE_REMOTE_TYPE" env-default:"stdout"`
	Uri  string     `yaml:"uri" env:"GOGUIDE_REMOTE_URI"`
	// we want to be able to pass credentials via env vars
	User     string `yaml:"user" env:"GOGUIDE_REMOTE_USER"`
	Password string `yaml:"password" env:"GOGUIDE_REMOTE_PASSWORD"`
	// Subject is the subject prefix of the nats remote.
	Subject string        `yaml:"subject" env-default:"goguide"`
	Timeout time.Duration `yaml:"timeout" env-default:"10s"`
}

// RemoteType encapsulates the type of a remote.
type RemoteType string

const (
	STDOUT_REMOTE_TYPE RemoteType = "stdout"
	API_REMOTE_TYPE    RemoteType = "api"
	NATS_REMOTE_TYPE   RemoteType = "nats"
)

// NewRemote returns a new remote depending on the remote type.
func NewRemote(c *Config) (Remote, error) {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	switch c.Type {
	case STDOUT_REMOTE_TYPE:
		return NewStdoutRemote(c), nil
	case API_REMOTE_TYPE:
		return NewAPIRemote(c)
	case NATS_REMOTE_TYPE:
		return NewNATSRemote(c)
	default:
		return nil, fmt.Errorf("remote of type '%s' not implemented", c.Type)
	}
}
