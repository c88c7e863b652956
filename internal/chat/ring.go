package chat

import "github.com/ashureev/ammora/internal/domain"

// turnRing is a fixed-size circular buffer of turns. When full, a push
// overwrites the oldest turn. It is not safe for concurrent use.
type turnRing struct {
	buf  []domain.Turn
	size int
	head int // write position
	tail int // read position
	full bool
}

func newTurnRing(size int) *turnRing {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &turnRing{
		buf:  make([]domain.Turn, size),
		size: size,
	}
}

// Push appends a turn, dropping the oldest one when the ring is full.
func (r *turnRing) Push(turn domain.Turn) {
	if r.full {
		r.tail = (r.tail + 1) % r.size
	}
	r.buf[r.head] = turn
	r.head = (r.head + 1) % r.size
	if r.head == r.tail {
		r.full = true
	}
}

// Len returns the number of turns held.
func (r *turnRing) Len() int {
	switch {
	case r.full:
		return r.size
	case r.head >= r.tail:
		return r.head - r.tail
	default:
		return r.size - r.tail + r.head
	}
}

// Snapshot returns the held turns oldest first, as a new slice.
func (r *turnRing) Snapshot() []domain.Turn {
	n := r.Len()
	out := make([]domain.Turn, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.tail+i)%r.size]
	}
	return out
}

// Reset empties the ring and fills it with turns, keeping the newest ones.
func (r *turnRing) Reset(turns []domain.Turn) {
	r.head, r.tail, r.full = 0, 0, false
	clear(r.buf)
	if len(turns) > r.size {
		turns = turns[len(turns)-r.size:]
	}
	for _, turn := range turns {
		r.Push(turn)
	}
}

// Capacity returns the maximum number of turns held.
func (r *turnRing) Capacity() int {
	return r.size
}
