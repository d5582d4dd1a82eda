package nlmsg

import "sync/atomic"

// Errno values carried in TypeError payloads (negated on the wire).
const (
	ErrnoNoEntry      int32 = 2
	ErrnoInvalid      int32 = 22
	ErrnoNotSupported int32 = 95
)

// Sequence hands out request sequence numbers starting at 1.
type Sequence struct {
	n atomic.Uint32
}

func (s *Sequence) Next() uint32 {
	for {
		if v := s.n.Add(1); v != 0 {
			return v
		}
	}
}
