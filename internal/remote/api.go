package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// APIRemote reports flow executions to an HTTP JSON api.
//
//	POST {uri}/executions                 start, answers {"executionId": ...}
//	POST {uri}/executions/{id}/progress   step finished
//	POST {uri}/executions/{id}/complete   flow finished
//	POST {uri}/executions/{id}/abandon    flow stopped
type APIRemote struct {
	*Config
	client *http.Client
	logger *slog.Logger
}

// NewAPIRemote returns a new APIRemote
func NewAPIRemote(c *Config) (*APIRemote, error) {
	if c.Uri == "" {
		return nil, errors.New("the api remote needs an uri")
	}
	return &APIRemote{
		Config: c,
		client: &http.Client{Timeout: c.Timeout},
		logger: slog.With(slog.String("remote", string(API_REMOTE_TYPE))),
	}, nil
}

func (r *APIRemote) StartExecution(ctx context.Context, flowID string, session SessionContext) (string, error) {
	var res startResponse
	if err := r.post(ctx, "/executions", startRequest{FlowID: flowID, Session: session}, &res); err != nil {
		return "", err
	}
	if res.ExecutionID == "" {
		return "", fmt.Errorf("%w: no execution id in response", ErrRejected)
	}
	r.logger.Debug(fmt.Sprintf("started execution %s of flow %s", res.ExecutionID, flowID))
	return res.ExecutionID, nil
}

func (r *APIRemote) UpdateProgress(ctx context.Context, executionID string, u ProgressUpdate) error {
	return r.call(ctx, executionID, "progress", u)
}

func (r *APIRemote) CompleteExecution(ctx context.Context, executionID string) error {
	return r.call(ctx, executionID, "complete", struct{}{})
}

func (r *APIRemote) AbandonExecution(ctx context.Context, executionID string, a Abandonment) error {
	return r.call(ctx, executionID, "abandon", a)
}

func (r *APIRemote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func (r *APIRemote) call(ctx context.Context, executionID, action string, body any) error {
	var res result
	if err := r.post(ctx, fmt.Sprintf("/executions/%s/%s", url.PathEscape(executionID), action), body, &res); err != nil {
		return err
	}
	return res.err()
}

func (r *APIRemote) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(r.Uri, "/") + path
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(b))
	if err != nil {
		return err
	}
	req.Header = map[string][]string{
		"Content-Type": {"application/json"},
	}
	if r.User != "" {
		req.SetBasicAuth(r.User, r.Password)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug(fmt.Sprintf("post request body %s", b))
		return fmt.Errorf("error while sending post request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error while reading post request response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("error while posting to %s. Status Code: %d Response: %s", path, resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("error while decoding response of %s: %w", path, err)
	}
	return nil
}
