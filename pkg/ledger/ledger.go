// Package ledger is the append-only audit spine of the kernel.
//
// Every entry chains to its predecessor via SHA-256. Corruption never
// repairs in place: the only recovery is truncation at the last valid
// entry, and boot validation must pass before routing resumes.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/praxis-works/covenant/pkg/canonicalize"
	"github.com/praxis-works/covenant/pkg/legality"
	"github.com/praxis-works/covenant/pkg/routing"
	"github.com/praxis-works/covenant/pkg/signal"
)

// GenesisHash anchors the chain before any entry exists.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ErrSealed is returned on writes after the ledger has been sealed.
var ErrSealed = errors.New("ledger sealed: integrity compromised")

// Entry is an immutable, hash-chained audit record. Timestamp is UnixNano
// so hashing stays exact across encode/decode round trips.
type Entry struct {
	Index        int    `json:"index"`
	SignalType   string `json:"signal_type"`
	Route        string `json:"route"`
	Handler      string `json:"handler"`
	Outcome      string `json:"outcome"`
	SignalID     string `json:"signal_id"`
	SignalDomain string `json:"signal_domain"`
	Timestamp    int64  `json:"timestamp"`
	PrevHash     string `json:"previous_hash"`
	Hash         string `json:"hash"`
	Extra        string `json:"extra,omitempty"`
}

// Record is the caller-supplied portion of an entry. SignalType, Route,
// Handler and Outcome are mandatory.
type Record struct {
	SignalType   string
	Route        string
	Handler      string
	Outcome      string
	SignalID     string
	SignalDomain string
	Extra        string
}

// Corruption describes one broken link found during verification.
type Corruption struct {
	Index    int    `json:"index"`
	Reason   string `json:"reason"`
	Expected string `json:"expected"`
	Got      string `json:"got"`
}

// Verification is the result of a full chain check.
type Verification struct {
	Valid          bool
	LastValidIndex int
	TotalEntries   int
	Corruptions    []Corruption
}

// TruncateReport describes a truncation attempt.
type TruncateReport struct {
	Truncated bool
	Removed   int
	NewLength int
	Reason    string
}

// BootReport is the outcome of boot-time chain validation.
type BootReport struct {
	BootValid bool
	Entries   int
	LastHash  string
	Truncate  *TruncateReport
}

// Stats counts ledger activity.
type Stats struct {
	Written   int
	Verified  int
	Corrupted int
	Truncated int
}

// Store persists the chain. Implementations must preserve insertion order.
type Store interface {
	Append(entry Entry) error
	LoadAll() ([]Entry, error)
	TruncateFrom(index int) error
}

// Ledger is the in-memory chain head. A Store, when present, mirrors every
// append and truncation.
type Ledger struct {
	mu       sync.RWMutex
	entries  []Entry
	lastHash string
	sealed   bool
	sealText string
	store    Store
	stats    Stats
	clock    func() time.Time
}

// New creates an empty ledger anchored at the genesis hash.
func New() *Ledger {
	return &Ledger{
		lastHash: GenesisHash,
		clock:    time.Now,
	}
}

// NewFromStore loads the persisted chain into a new ledger. The loaded
// chain is not verified here; call BootValidation before use.
func NewFromStore(store Store) (*Ledger, error) {
	entries, err := store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	l := New()
	l.store = store
	l.entries = entries
	if n := len(entries); n > 0 {
		l.lastHash = entries[n-1].Hash
	}
	return l, nil
}

// WithClock overrides the time source. Intended for tests.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Write appends a record to the chain. No write without hash; each entry
// chains to the previous.
func (l *Ledger) Write(rec Record) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed {
		return Entry{}, ErrSealed
	}
	for _, f := range []struct{ name, value string }{
		{"signal_type", rec.SignalType},
		{"route", rec.Route},
		{"handler", rec.Handler},
		{"outcome", rec.Outcome},
	} {
		if f.value == "" {
			return Entry{}, fmt.Errorf("audit record missing required field: %s", f.name)
		}
	}

	entry := Entry{
		Index:        len(l.entries),
		SignalType:   rec.SignalType,
		Route:        rec.Route,
		Handler:      rec.Handler,
		Outcome:      rec.Outcome,
		SignalID:     rec.SignalID,
		SignalDomain: rec.SignalDomain,
		Timestamp:    l.clock().UnixNano(),
		PrevHash:     l.lastHash,
		Extra:        rec.Extra,
	}
	hash, err := entryHash(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("hash audit entry: %w", err)
	}
	entry.Hash = hash

	if l.store != nil {
		if err := l.store.Append(entry); err != nil {
			return Entry{}, fmt.Errorf("persist audit entry: %w", err)
		}
	}

	l.entries = append(l.entries, entry)
	l.lastHash = hash
	l.stats.Written++
	return entry, nil
}

// WriteRoutingDecision records a router decision for a signal.
func (l *Ledger) WriteRoutingDecision(sig *signal.Signal, d routing.Decision) (Entry, error) {
	target := d.Target
	if target == "" {
		target = "none"
	}
	return l.Write(Record{
		SignalType:   sig.Type,
		Route:        target,
		Handler:      target,
		Outcome:      string(d.Action),
		SignalID:     sig.ID,
		SignalDomain: sig.Domain,
		Extra:        d.Reason,
	})
}

// WriteContainment records a legality gate termination.
func (l *Ledger) WriteContainment(event legality.ContainmentEvent) (Entry, error) {
	extra, err := json.Marshal(event.Violations)
	if err != nil {
		return Entry{}, fmt.Errorf("encode violations: %w", err)
	}
	return l.Write(Record{
		SignalType:   event.SignalType,
		Route:        "legality_gate",
		Handler:      "legality_gate",
		Outcome:      "terminated",
		SignalID:     event.SignalID,
		SignalDomain: event.SignalDomain,
		Extra:        string(extra),
	})
}

// Verify walks the whole chain from genesis. It stops at the first broken
// link, so LastValidIndex marks where a truncation would cut.
func (l *Ledger) Verify() Verification {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verifyLocked()
}

func (l *Ledger) verifyLocked() Verification {
	prev := GenesisHash
	lastValid := -1
	var corruptions []Corruption

	for i, entry := range l.entries {
		if entry.PrevHash != prev {
			corruptions = append(corruptions, Corruption{
				Index:    i,
				Reason:   "previous_hash mismatch",
				Expected: prev,
				Got:      entry.PrevHash,
			})
			break
		}
		computed, err := entryHash(entry)
		if err != nil {
			corruptions = append(corruptions, Corruption{
				Index:  i,
				Reason: fmt.Sprintf("hash computation failed: %v", err),
			})
			break
		}
		if entry.Hash != computed {
			corruptions = append(corruptions, Corruption{
				Index:    i,
				Reason:   "entry hash mismatch",
				Expected: computed,
				Got:      entry.Hash,
			})
			break
		}
		prev = entry.Hash
		lastValid = i
	}

	l.stats.Verified++
	valid := len(corruptions) == 0
	if !valid {
		l.stats.Corrupted++
	}
	return Verification{
		Valid:          valid,
		LastValidIndex: lastValid,
		TotalEntries:   len(l.entries),
		Corruptions:    corruptions,
	}
}

// TruncateAtLastValid cuts the chain at the last valid entry. It is the
// only permitted repair; a valid chain is left untouched.
func (l *Ledger) TruncateAtLastValid() (TruncateReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := l.verifyLocked()
	if v.Valid {
		return TruncateReport{Truncated: false, Reason: "chain is valid"}, nil
	}

	cut := v.LastValidIndex + 1
	removed := len(l.entries) - cut
	if l.store != nil {
		if err := l.store.TruncateFrom(cut); err != nil {
			return TruncateReport{}, fmt.Errorf("truncate store: %w", err)
		}
	}
	l.entries = l.entries[:cut]
	if cut > 0 {
		l.lastHash = l.entries[cut-1].Hash
	} else {
		l.lastHash = GenesisHash
	}
	l.stats.Truncated++
	return TruncateReport{Truncated: true, Removed: removed, NewLength: cut}, nil
}

// BootValidation verifies the chain at boot, truncating on corruption.
// Routing must not resume unless BootValid is true or the truncation
// succeeded.
func (l *Ledger) BootValidation() (BootReport, error) {
	v := l.Verify()
	if v.Valid {
		return BootReport{
			BootValid: true,
			Entries:   v.TotalEntries,
			LastHash:  l.LastHash(),
		}, nil
	}
	trunc, err := l.TruncateAtLastValid()
	if err != nil {
		return BootReport{}, err
	}
	return BootReport{
		BootValid: false,
		Entries:   trunc.NewLength,
		LastHash:  l.LastHash(),
		Truncate:  &trunc,
	}, nil
}

// Seal permanently closes the ledger for writes.
func (l *Ledger) Seal(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sealed = true
	l.sealText = reason
}

// Sealed reports whether the ledger has been sealed and why.
func (l *Ledger) Sealed() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sealed, l.sealText
}

// Entries returns a copy of the chain.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Length returns the number of entries.
func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// LastHash returns the chain head hash.
func (l *Ledger) LastHash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastHash
}

// Stats returns a snapshot of ledger counters.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

// Export serialises the chain with its head hash for external evidence.
func (l *Ledger) Export() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.MarshalIndent(struct {
		Entries  []Entry `json:"entries"`
		LastHash string  `json:"last_hash"`
		Length   int     `json:"length"`
	}{l.entries, l.lastHash, len(l.entries)}, "", "  ")
}

// entryHash hashes the canonical form of the chained fields. Hash and
// Extra are excluded so the chain commits to what was decided, not to
// free-form annotations.
func entryHash(e Entry) (string, error) {
	return canonicalize.CanonicalHash(map[string]interface{}{
		"index":         e.Index,
		"signal_type":   e.SignalType,
		"route":         e.Route,
		"handler":       e.Handler,
		"outcome":       e.Outcome,
		"signal_id":     e.SignalID,
		"signal_domain": e.SignalDomain,
		"timestamp":     e.Timestamp,
		"previous_hash": e.PrevHash,
	})
}
