// Package mock implements a fully scriptable backend.Provider, used by
// pkg/pipeline's end-to-end tests to drive the §8 scenarios (single-turn,
// tool loop, runaway bound, speaker switch, ...) without a network call.
package mock

import (
	"context"
	"fmt"
	"sync"

	"lectic/pkg/backend"
)

// Step is one scripted response: either a plain text completion (ToolCalls
// empty) or a tool-call round.
type Step struct {
	Text      string
	ToolCalls []backend.ToolCall
}

// Provider replays Steps in order, one per StreamCompletion call. Calling
// it more times than len(Steps) is an error, surfaced rather than panicking
// so a misconfigured test fails with a readable message.
type Provider struct {
	Steps   []Step
	Cache   bool
	Encoded func(entries []backend.HistoryEntry, opts backend.EncodeOptions)

	mu  sync.Mutex
	idx int
}

// New builds a Provider that replays steps in order.
func New(steps []Step) *Provider {
	return &Provider{Steps: steps}
}

func (p *Provider) Name() string              { return "mock" }
func (p *Provider) SupportsCacheControl() bool { return p.Cache }

func (p *Provider) StepsPlayed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idx
}

// EncodeHistory just relabels speakers and hands the entries straight
// through; a test can observe the entries a given round produced via
// Encoded.
func (p *Provider) EncodeHistory(entries []backend.HistoryEntry, opts backend.EncodeOptions) (any, error) {
	relabeled := backend.RelabelSpeaker(entries, opts.ActiveSpeaker)
	if p.Encoded != nil {
		p.Encoded(relabeled, opts)
	}
	return relabeled, nil
}

func (p *Provider) StreamCompletion(ctx context.Context, encoded any, onDelta func(string) error) (*backend.Completion, error) {
	p.mu.Lock()
	if p.idx >= len(p.Steps) {
		p.mu.Unlock()
		return nil, fmt.Errorf("mock: script exhausted after %d step(s)", p.idx)
	}
	step := p.Steps[p.idx]
	p.idx++
	p.mu.Unlock()

	if onDelta != nil && step.Text != "" {
		if err := onDelta(step.Text); err != nil {
			return nil, err
		}
	}
	return &backend.Completion{Text: step.Text, ToolCalls: step.ToolCalls}, nil
}
