package llm

import (
	"context"
	"sync"
)

// ScriptFunc produces the chunks for one simulated streaming call.
// call is 1-based; messages is the context the engine sent.
type ScriptFunc func(call int, messages []Message) ([]StreamChunk, error)

// ScriptedClient is an LLMClient useful for testing. It replays chunks
// produced by a ScriptFunc, simulating a live stream without a backend.
type ScriptedClient struct {
	Script ScriptFunc

	mu    sync.Mutex
	calls int
}

// NewScriptedClient creates a scripted client from the given script.
func NewScriptedClient(script ScriptFunc) *ScriptedClient {
	return &ScriptedClient{Script: script}
}

func (s *ScriptedClient) Provider() string { return "scripted" }

func (s *ScriptedClient) SetDebug(enabled bool) {}

func (s *ScriptedClient) IsTransientError(err error) bool { return false }

// Calls reports how many StreamChat invocations the client has served.
func (s *ScriptedClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *ScriptedClient) StreamChat(ctx context.Context, messages []Message, opts *Options, tools []Tool) (<-chan StreamChunk, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	chunks, err := s.Script(call, messages)
	if err != nil {
		return nil, err
	}

	chunkCh := make(chan StreamChunk, len(chunks)+1)
	go func() {
		defer close(chunkCh)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case chunkCh <- c:
			}
		}
	}()
	return chunkCh, nil
}
