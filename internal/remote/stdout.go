package remote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// StdoutRemote only logs what it would report. Execution ids are random
// uuids.
type StdoutRemote struct {
	logger *slog.Logger
}

// NewStdoutRemote returns a new StdoutRemote
func NewStdoutRemote(c *Config) *StdoutRemote {
	return &StdoutRemote{
		logger: slog.With(slog.String("remote", string(STDOUT_REMOTE_TYPE))),
	}
}

func (r *StdoutRemote) StartExecution(_ context.Context, flowID string, session SessionContext) (string, error) {
	id := uuid.NewString()
	r.logger.Info(fmt.Sprintf("started execution %s of flow %s", id, flowID), slog.String("session", session.SessionID))
	return id, nil
}

func (r *StdoutRemote) UpdateProgress(_ context.Context, executionID string, u ProgressUpdate) error {
	r.logger.Info(fmt.Sprintf("step %s at position %d %s", u.StepID, u.Position, u.Status), slog.String("execution", executionID))
	return nil
}

func (r *StdoutRemote) CompleteExecution(_ context.Context, executionID string) error {
	r.logger.Info("flow completed", slog.String("execution", executionID))
	return nil
}

func (r *StdoutRemote) AbandonExecution(_ context.Context, executionID string, a Abandonment) error {
	r.logger.Info(fmt.Sprintf("flow abandoned with status %s: %s", a.Status, a.Details), slog.String("execution", executionID))
	return nil
}

func (r *StdoutRemote) Close() error { return nil }
