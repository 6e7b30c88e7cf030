// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/conveyor-ci/conveyor/lib/codec"
	"github.com/conveyor-ci/conveyor/lib/event"
	"github.com/conveyor-ci/conveyor/lib/run"
)

// dialTimeout covers only the connect phase; the server's own
// read/write deadlines bound the rest.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the response
// after writing its request, sized to the server's read plus write
// deadlines to leave handler execution time.
const responseReadTimeout = 45 * time.Second

// maxResponseSize mirrors the server's request cap.
const maxResponseSize = 1024 * 1024

// CallError is returned when the server responds with ok=false. It
// carries the server's message and the action that failed.
type CallError struct {
	Action  string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("control error on %q: %s", e.Action, e.Message)
}

// Client sends control requests to an engine's Unix socket. Each call
// opens a fresh connection, matching the server's one-request-per-
// connection model. The zero value is unusable; construct with
// NewClient.
type Client struct {
	socketPath string
}

// NewClient returns a client for the engine control socket at
// socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Ping checks engine liveness and returns its version.
func (c *Client) Ping(ctx context.Context) (PingResponse, error) {
	var response PingResponse
	err := c.call(ctx, ActionPing, map[string]any{"action": ActionPing}, &response)
	return response, err
}

// Submit sends an event for evaluation. An empty workflowName fans
// the event out to every loaded workflow.
func (c *Client) Submit(ctx context.Context, workflowName string, ev event.Event) (SubmitResponse, error) {
	var response SubmitResponse
	err := c.call(ctx, ActionSubmit, SubmitRequest{
		Action:   ActionSubmit,
		Workflow: workflowName,
		Event:    ev,
	}, &response)
	return response, err
}

// Summary fetches the stored summary of one run.
func (c *Client) Summary(ctx context.Context, runID string) (run.Summary, error) {
	var summary run.Summary
	err := c.call(ctx, ActionSummary, SummaryRequest{
		Action: ActionSummary,
		RunID:  runID,
	}, &summary)
	return summary, err
}

// Runs lists stored run summaries, newest first. Empty filter fields
// mean no constraint.
func (c *Client) Runs(ctx context.Context, workflowName, status string, limit int) (RunsResponse, error) {
	var response RunsResponse
	err := c.call(ctx, ActionRuns, RunsRequest{
		Action:   ActionRuns,
		Workflow: workflowName,
		Status:   status,
		Limit:    limit,
	}, &response)
	return response, err
}

// Cancel cancels a pending or running run.
func (c *Client) Cancel(ctx context.Context, runID string) error {
	return c.call(ctx, ActionCancel, CancelRequest{
		Action: ActionCancel,
		RunID:  runID,
	}, nil)
}

// Workflows lists the loaded workflow definitions.
func (c *Client) Workflows(ctx context.Context) (WorkflowsResponse, error) {
	var response WorkflowsResponse
	err := c.call(ctx, ActionWorkflows, map[string]any{"action": ActionWorkflows}, &response)
	return response, err
}

// ActiveGroups snapshots the held concurrency groups.
func (c *Client) ActiveGroups(ctx context.Context) (ActiveResponse, error) {
	var response ActiveResponse
	err := c.call(ctx, ActionActive, map[string]any{"action": ActionActive}, &response)
	return response, err
}

// call sends one request and decodes the response data into result
// (when non-nil). Server-reported failures come back as *CallError;
// transport failures as plain errors.
func (c *Client) call(ctx context.Context, action string, request any, result any) error {
	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &CallError{Action: action, Message: response.Error}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// send connects, writes the request, and reads the response envelope.
func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side so the server's read sees a clean EOF.
	// CBOR is self-delimiting, so this is hygiene, not framing.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
