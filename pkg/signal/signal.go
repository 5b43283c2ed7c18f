// Package signal provides the typed signal substrate: the schema-enforced
// factory that is the only sanctioned way to construct signals, and the
// priority bus that queues them for the router.
package signal

import (
	"fmt"
	"time"

	"github.com/praxis-works/covenant/pkg/canonicalize"
)

// Signal is the canonical unit of work. Create signals only via
// Factory.Create: the content hash is computed once at construction and
// never recomputed, so any later mutation of type, domain, authority,
// payload, or timestamp makes VerifyIntegrity fail.
type Signal struct {
	ID            string      `json:"id"`
	Type          string      `json:"type"`
	Domain        string      `json:"domain"`
	Authority     string      `json:"authority"`
	Payload       interface{} `json:"payload"`
	Source        string      `json:"source,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	Hash          string      `json:"hash"`

	// Status flags, set only by the router after construction.
	Routed  bool   `json:"routed"`
	Handled bool   `json:"handled"`
	Outcome string `json:"outcome,omitempty"`
}

// TypeHalt is the signal type the kernel interprets as a halt request.
const TypeHalt = "halt"

// TypeEscalation marks signals raised on the escalation lane.
const TypeEscalation = "escalation"

// DomainEmergency routes through the escalation lane regardless of type.
const DomainEmergency = "emergency"

// VerifyIntegrity recomputes the content hash and compares it against the
// hash stamped at construction. Any tampering returns false.
func (s *Signal) VerifyIntegrity() bool {
	expected, err := s.computeHash()
	if err != nil {
		return false
	}
	return s.Hash == expected
}

func (s *Signal) computeHash() (string, error) {
	return canonicalize.CanonicalHash(map[string]interface{}{
		"id":        s.ID,
		"type":      s.Type,
		"domain":    s.Domain,
		"authority": s.Authority,
		"payload":   serializePayload(s.Payload),
		"timestamp": s.Timestamp.UnixNano(),
	})
}

// Record returns the minimal projection written to the audit trail.
func (s *Signal) Record() map[string]interface{} {
	return map[string]interface{}{
		"id":             s.ID,
		"type":           s.Type,
		"domain":         s.Domain,
		"authority":      s.Authority,
		"source":         s.Source,
		"correlation_id": s.CorrelationID,
		"timestamp":      s.Timestamp,
		"hash":           s.Hash,
		"routed":         s.Routed,
		"handled":        s.Handled,
		"outcome":        s.Outcome,
	}
}

// serializePayload produces a deterministic string form for hashing.
func serializePayload(payload interface{}) string {
	if s, ok := payload.(string); ok {
		return s
	}
	b, err := canonicalize.JCS(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(b)
}
