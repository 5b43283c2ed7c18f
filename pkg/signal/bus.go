package signal

import (
	"fmt"
	"sync"
)

// Channel is one of the bus's three priority lanes.
type Channel string

const (
	ChannelHalt       Channel = "halt"
	ChannelEscalation Channel = "escalation"
	ChannelNormal     Channel = "normal"
)

// drainOrder is the strict priority order for DrainAll.
var drainOrder = []Channel{ChannelHalt, ChannelEscalation, ChannelNormal}

// Stats counts bus activity.
type Stats struct {
	Received   int `json:"received"`
	Rejected   int `json:"rejected"`
	Dispatched int `json:"dispatched"`
	Halted     int `json:"halted"`
}

// SubmitResult reports what the bus did with a submitted signal.
type SubmitResult struct {
	Accepted bool    `json:"accepted"`
	Channel  Channel `json:"channel,omitempty"`
	SignalID string  `json:"signal_id,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// Bus is the schema-guarded signal queue. Signals are classified into
// halt, escalation, and normal lanes; while halted only halt-type signals
// are accepted.
type Bus struct {
	mu         sync.Mutex
	factory    *Factory
	channels   map[Channel][]*Signal
	halted     bool
	haltReason string
	stats      Stats
}

// NewBus creates a bus guarded by the given factory's schema.
func NewBus(factory *Factory) *Bus {
	return &Bus{
		factory: factory,
		channels: map[Channel][]*Signal{
			ChannelHalt:       nil,
			ChannelEscalation: nil,
			ChannelNormal:     nil,
		},
	}
}

// Submit validates and enqueues a signal. The bus only reads the signal;
// ownership stays with the caller until it is drained.
func (b *Bus) Submit(sig *Signal) SubmitResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Received++

	if b.halted && sig.Type != TypeHalt {
		b.stats.Rejected++
		return SubmitResult{Accepted: false, Reason: "bus halted; only halt signals accepted"}
	}

	if problems := b.factory.Validate(sig); len(problems) > 0 {
		b.stats.Rejected++
		return SubmitResult{Accepted: false, Reason: fmt.Sprintf("schema violation: %v", problems)}
	}

	ch := classify(sig)
	b.channels[ch] = append(b.channels[ch], sig)
	return SubmitResult{Accepted: true, Channel: ch, SignalID: sig.ID}
}

// Drain empties one channel, preserving arrival order.
func (b *Bus) Drain(ch Channel) ([]*Signal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	queue, ok := b.channels[ch]
	if !ok {
		return nil, fmt.Errorf("unknown channel: %s", ch)
	}
	b.channels[ch] = nil
	b.stats.Dispatched += len(queue)
	return queue, nil
}

// DrainAll empties every channel in strict priority order: halt first,
// escalation second, normal last. Arrival order is preserved within a
// channel.
func (b *Bus) DrainAll() []*Signal {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*Signal
	for _, ch := range drainOrder {
		out = append(out, b.channels[ch]...)
		b.stats.Dispatched += len(b.channels[ch])
		b.channels[ch] = nil
	}
	return out
}

// Pending returns the queued signal count per channel.
func (b *Bus) Pending() map[Channel]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[Channel]int, len(b.channels))
	for ch, queue := range b.channels {
		out[ch] = len(queue)
	}
	return out
}

// Halt closes the bus to everything except halt signals.
func (b *Bus) Halt(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = true
	b.haltReason = reason
	b.stats.Halted++
}

// Resume reopens the bus.
func (b *Bus) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = false
	b.haltReason = ""
}

// HaltReason returns the reason given to the most recent Halt, if halted.
func (b *Bus) HaltReason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.haltReason
}

// IsHalted reports whether the bus is accepting only halt signals.
func (b *Bus) IsHalted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halted
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func classify(sig *Signal) Channel {
	switch {
	case sig.Type == TypeHalt:
		return ChannelHalt
	case sig.Type == TypeEscalation || sig.Domain == DomainEmergency:
		return ChannelEscalation
	default:
		return ChannelNormal
	}
}
