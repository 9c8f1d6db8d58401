package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATSRemote reports flow executions through nats request/reply on the
// subjects {prefix}.execution.start, .progress, .complete and .abandon.
type NATSRemote struct {
	*Config
	nc     *nats.Conn
	logger *slog.Logger
}

type executionRequest struct {
	ExecutionID string          `json:"executionId"`
	Progress    *ProgressUpdate `json:"progress,omitempty"`
	Abandon     *Abandonment    `json:"abandon,omitempty"`
}

// NewNATSRemote connects to the nats server at the configured uri.
func NewNATSRemote(c *Config) (*NATSRemote, error) {
	uri := c.Uri
	if uri == "" {
		uri = nats.DefaultURL
	}
	opts := []nats.Option{nats.Name("goguide"), nats.Timeout(c.Timeout)}
	if c.User != "" {
		opts = append(opts, nats.UserInfo(c.User, c.Password))
	}
	nc, err := nats.Connect(uri, opts...)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to nats at %s: %w", uri, err)
	}
	return &NATSRemote{
		Config: c,
		nc:     nc,
		logger: slog.With(slog.String("remote", string(NATS_REMOTE_TYPE))),
	}, nil
}

// SubjectFor returns the full subject of an action.
func (r *NATSRemote) SubjectFor(action string) string {
	return fmt.Sprintf("%s.execution.%s", r.Config.Subject, action)
}

func (r *NATSRemote) StartExecution(ctx context.Context, flowID string, session SessionContext) (string, error) {
	var res startResponse
	if err := r.request(ctx, "start", startRequest{FlowID: flowID, Session: session}, &res); err != nil {
		return "", err
	}
	if res.ExecutionID == "" {
		return "", fmt.Errorf("%w: no execution id in reply", ErrRejected)
	}
	return res.ExecutionID, nil
}

func (r *NATSRemote) UpdateProgress(ctx context.Context, executionID string, u ProgressUpdate) error {
	return r.call(ctx, "progress", executionRequest{ExecutionID: executionID, Progress: &u})
}

func (r *NATSRemote) CompleteExecution(ctx context.Context, executionID string) error {
	return r.call(ctx, "complete", executionRequest{ExecutionID: executionID})
}

func (r *NATSRemote) AbandonExecution(ctx context.Context, executionID string, a Abandonment) error {
	return r.call(ctx, "abandon", executionRequest{ExecutionID: executionID, Abandon: &a})
}

func (r *NATSRemote) Close() error {
	return r.nc.Drain()
}

func (r *NATSRemote) call(ctx context.Context, action string, req executionRequest) error {
	var res result
	if err := r.request(ctx, action, req, &res); err != nil {
		return err
	}
	return res.err()
}

func (r *NATSRemote) request(ctx context.Context, action string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	msg, err := r.nc.RequestWithContext(ctx, r.SubjectFor(action), b)
	if err != nil {
		return fmt.Errorf("error while requesting %s: %w", r.SubjectFor(action), err)
	}
	if err := json.Unmarshal(msg.Data, out); err != nil {
		return fmt.Errorf("error while decoding reply of %s: %w", r.SubjectFor(action), err)
	}
	return nil
}
