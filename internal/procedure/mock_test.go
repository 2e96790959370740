package procedure

import (
	"context"
	"sync"

	"github.com/clearspan/lcaflow/internal/sandbox"
	"github.com/clearspan/lcaflow/pkg/anthropic"
)

// scriptedLLM returns queued responses in order. A nil entry's error is
// returned instead.
type scriptedLLM struct {
	mu       sync.Mutex
	script   []scriptedReply
	requests []anthropic.MessageRequest
}

type scriptedReply struct {
	text string
	err  error
}

func (s *scriptedLLM) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.script) == 0 {
		panic("scriptedLLM: no replies left")
	}
	reply := s.script[0]
	s.script = s.script[1:]
	if reply.err != nil {
		return nil, reply.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: reply.text}},
	}, nil
}

// scriptedRunner returns queued sandbox results in order and records the
// scripts it was asked to run.
type scriptedRunner struct {
	mu      sync.Mutex
	script  []runnerReply
	scripts []string
}

type runnerReply struct {
	result *sandbox.Result
	err    error
}

func (s *scriptedRunner) Execute(ctx context.Context, script string, filename string, file []byte) (*sandbox.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, script)
	if len(s.script) == 0 {
		panic("scriptedRunner: no replies left")
	}
	reply := s.script[0]
	s.script = s.script[1:]
	return reply.result, reply.err
}

// scriptedExtractor returns a fixed text or error for every call.
type scriptedExtractor struct {
	text string
	err  error
}

func (s *scriptedExtractor) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	return s.text, s.err
}
