package hass

import "sync/atomic"

// Sequence allocates message identifiers for one connection.
//
// The first identifier handed out is 1. Identifier 0 is never allocated:
// the auth frame carries no identifier at all rather than a zero.
//
// Thread Safety:
//   - Next and Last are lock-free and safe for concurrent use.
type Sequence struct {
	last atomic.Uint64
}

// Next returns an identifier strictly greater than every identifier
// previously returned by this Sequence.
func (s *Sequence) Next() uint64 {
	return s.last.Add(1)
}

// Last returns the most recently allocated identifier.
// ok is false if Next has never been called.
func (s *Sequence) Last() (id uint64, ok bool) {
	id = s.last.Load()
	return id, id != 0
}
