package testsupport

import (
	"context"
	"sync"
	"sync/atomic"

	"atelier/internal/provider"
)

// FakeProvider returns scripted results in call order. When the script runs
// out, Default is used.
type FakeProvider struct {
	mu       sync.Mutex
	script   []FakeResponse
	requests []provider.Request

	Default FakeResponse
	// Block, when set, is waited on at the start of every call.
	Block chan struct{}
	// InFlight reports how many calls are currently executing.
	InFlight atomic.Int32
	// MaxInFlight is the highest InFlight value observed.
	MaxInFlight atomic.Int32
}

// FakeResponse is one scripted provider outcome.
type FakeResponse struct {
	Data []byte
	MIME string
	Err  error
}

// NewFakeProvider returns a provider that answers def unless scripted.
func NewFakeProvider(def FakeResponse, script ...FakeResponse) *FakeProvider {
	return &FakeProvider{Default: def, script: script}
}

func (f *FakeProvider) Name() string { return "fake" }

func (f *FakeProvider) Generate(ctx context.Context, req provider.Request) (provider.Result, error) {
	current := f.InFlight.Add(1)
	defer f.InFlight.Add(-1)
	for {
		peak := f.MaxInFlight.Load()
		if current <= peak || f.MaxInFlight.CompareAndSwap(peak, current) {
			break
		}
	}
	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return provider.Result{}, ctx.Err()
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	resp := f.Default
	if len(f.script) > 0 {
		resp = f.script[0]
		f.script = f.script[1:]
	}
	f.mu.Unlock()

	if resp.Err != nil {
		return provider.Result{}, resp.Err
	}
	return provider.Result{Data: resp.Data, MIME: resp.MIME, Model: "fake"}, nil
}

// Requests returns a copy of every request received so far.
func (f *FakeProvider) Requests() []provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Request(nil), f.requests...)
}

// CountingTrigger records Trigger calls.
type CountingTrigger struct {
	calls atomic.Int32
}

func (c *CountingTrigger) Trigger() { c.calls.Add(1) }

// Calls returns how many times Trigger ran.
func (c *CountingTrigger) Calls() int { return int(c.calls.Load()) }
