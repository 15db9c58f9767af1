package event

import "sync"

// Sink receives the envelopes of one committed operation, in order.
// Publish is called while the vault write lock is held and must not call
// back into the vault.
type Sink interface {
	Publish(envs []EventEnvelope)
}

// MemorySink keeps the full ordered history. Used by tests and replay tools.
type MemorySink struct {
	mu      sync.Mutex
	history []EventEnvelope
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(envs []EventEnvelope) {
	s.mu.Lock()
	s.history = append(s.history, envs...)
	s.mu.Unlock()
}

// History returns a copy of every envelope published so far.
func (s *MemorySink) History() []EventEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventEnvelope, len(s.history))
	copy(out, s.history)
	return out
}

// Types returns the event types in publish order.
func (s *MemorySink) Types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, len(s.history))
	for i, env := range s.history {
		out[i] = env.EventType
	}
	return out
}

func (s *MemorySink) Reset() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

// FanoutSink forwards to every sink in order.
type FanoutSink []Sink

func (f FanoutSink) Publish(envs []EventEnvelope) {
	for _, s := range f {
		s.Publish(envs)
	}
}

// Collector buffers envelopes until the owner drains them. The command
// processor drains it after every command.
type Collector struct {
	mu  sync.Mutex
	buf []EventEnvelope
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Publish(envs []EventEnvelope) {
	c.mu.Lock()
	c.buf = append(c.buf, envs...)
	c.mu.Unlock()
}

// Drain returns and clears the buffered envelopes.
func (c *Collector) Drain() []EventEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.buf
	c.buf = nil
	return out
}
