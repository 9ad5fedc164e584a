// Package ident generates order and trade identities.
package ident

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator hands out unique identities.
type Generator interface {
	NewID() string
}

// UUID generates time-based (version 1) UUIDs. The creation instant can be
// recovered from the id with TimeOf.
type UUID struct{}

func (UUID) NewID() string {
	id, err := uuid.NewUUID()
	if err != nil {
		// No usable node id or clock sequence; fall back to random.
		return uuid.NewString()
	}
	return id.String()
}

// NewID returns a fresh time-based UUID string.
func NewID() string { return UUID{}.NewID() }

// TimeOf extracts the timestamp embedded in a version 1 UUID. It reports
// false for any other identity.
func TimeOf(id string) (time.Time, bool) {
	u, err := uuid.Parse(id)
	if err != nil || u.Version() != 1 {
		return time.Time{}, false
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec), true
}

// Sequencer generates strictly monotonic sequence numbers.
// Its identities carry no time component.
type Sequencer struct {
	next atomic.Uint64
}

// NewSequencer creates a sequencer whose first Next returns start+1.
func NewSequencer(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued number.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

func (s *Sequencer) NewID() string {
	return strconv.FormatUint(s.Next(), 10)
}

var (
	_ Generator = UUID{}
	_ Generator = (*Sequencer)(nil)
)
