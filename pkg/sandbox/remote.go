package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request is one remote procedure call sent to the browser-side runtime.
type Request struct {
	ID           string         `json:"id"`
	FunctionName string         `json:"functionName"`
	Args         map[string]any `json:"args"`
	UserID       string         `json:"userId"`
}

// Response is the runtime's reply, correlated by ID.
type Response struct {
	ID     string `json:"id"`
	Status bool   `json:"status"`
	Data   string `json:"data"`
}

// SendFunc delivers a request to the remote runtime. The transport (a
// websocket channel) is injected so this package stays transport-agnostic.
type SendFunc func(req Request) error

// RPC correlates outbound requests with inbound responses. Every call gets
// a fixed timeout, a runtime that never answers yields the canned timeout
// response instead of hanging the dispatch loop.
type RPC struct {
	send    SendFunc
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan Response
}

func NewRPC(send SendFunc, timeout time.Duration) *RPC {
	return &RPC{
		send:    send,
		timeout: timeout,
		pending: make(map[string]chan Response),
	}
}

// Call sends one request and blocks for the response. Transport failures
// return an error, a missing response returns the timeout payload with
// Status false.
func (r *RPC) Call(ctx context.Context, functionName string, args map[string]any, userID string) (Response, error) {
	id := uuid.New().String()
	ch := make(chan Response, 1)

	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	req := Request{ID: id, FunctionName: functionName, Args: args, UserID: userID}
	if err := r.send(req); err != nil {
		return Response{}, fmt.Errorf("send rpc request: %w", err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		slog.Warn("⚠️ RPC timed out", "function", functionName, "id", id)
		return Response{ID: id, Status: false, Data: "Timeout waiting for response"}, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// HandleResponse routes an inbound response to its waiting caller.
// Responses for unknown ids (late arrivals after timeout) are dropped.
func (r *RPC) HandleResponse(resp Response) {
	r.mu.Lock()
	ch, ok := r.pending[resp.ID]
	if ok {
		delete(r.pending, resp.ID)
	}
	r.mu.Unlock()

	if !ok {
		slog.Debug("Dropping RPC response with no waiter", "id", resp.ID)
		return
	}
	ch <- resp
}

// Remote is a sandbox whose operations execute in the user's browser
// runtime over RPC.
type Remote struct {
	rpc    *RPC
	userID string
}

func NewRemote(rpc *RPC, userID string) *Remote {
	return &Remote{rpc: rpc, userID: userID}
}

func (s *Remote) call(ctx context.Context, fn string, args map[string]any) (Response, error) {
	return s.rpc.Call(ctx, fn, args, s.userID)
}

func (s *Remote) WriteFile(ctx context.Context, path, content string) error {
	resp, err := s.call(ctx, "writeFile", map[string]any{"path": path, "content": content})
	if err != nil {
		return err
	}
	if !resp.Status {
		return fmt.Errorf("writeFile failed: %s", resp.Data)
	}
	return nil
}

func (s *Remote) ReadFile(ctx context.Context, path string) (string, error) {
	resp, err := s.call(ctx, "readFile", map[string]any{"path": path})
	if err != nil {
		return "", err
	}
	if !resp.Status {
		return "", fmt.Errorf("readFile failed: %s", resp.Data)
	}
	return resp.Data, nil
}

func (s *Remote) Mkdir(ctx context.Context, path string, recursive bool) error {
	resp, err := s.call(ctx, "mkdir", map[string]any{"path": path, "recursive": recursive})
	if err != nil {
		return err
	}
	if !resp.Status {
		return fmt.Errorf("mkdir failed: %s", resp.Data)
	}
	return nil
}

func (s *Remote) ReadDir(ctx context.Context, path string) ([]string, error) {
	resp, err := s.call(ctx, "readDir", map[string]any{"path": path})
	if err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("readDir failed: %s", resp.Data)
	}
	var names []string
	if err := json.UnmarshalFromString(resp.Data, &names); err != nil {
		return nil, fmt.Errorf("parse readDir response: %w", err)
	}
	return names, nil
}

// Run spawns a command in the remote runtime. Status false means the
// command itself failed, its output still goes back to the model.
func (s *Remote) Run(ctx context.Context, command string) (string, int, error) {
	resp, err := s.call(ctx, "spawn", map[string]any{"command": command})
	if err != nil {
		return "", -1, err
	}
	if !resp.Status {
		return resp.Data, 1, nil
	}
	return resp.Data, 0, nil
}

func (s *Remote) Close() error { return nil }
