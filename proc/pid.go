package proc

import "sync"

// MaxId bounds the id space a PidManager hands out, matching
// original_source's PidManager::MAX_PID.
const MaxId = 32768

// PidManager allocates small integer ids from a fixed-size bitmap, the
// same scheme original_source's PidManager uses for both its pid and
// tid counters (ids 0-2 are reserved the way real pid 0/1/2 are, so the
// first id handed out is 3).
type PidManager struct {
	mu     sync.Mutex
	bitmap [MaxId/32 + 1]uint32
	next   int
}

func (p *PidManager) reserveLow() {
	for i := 0; i < 3; i++ {
		p.bitmap[i/32] |= 1 << uint(i%32)
	}
	p.next = 3
}

// Alloc returns the first unused id at or after the one past the id it
// last handed out, wrapping around and skipping ids 0-2, or -1 if the
// space is exhausted.
func (p *PidManager) Alloc() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next == 0 {
		p.reserveLow()
	}
	for i := 0; i < MaxId; i++ {
		n := (p.next + i) % MaxId
		if n < 3 {
			continue
		}
		word, bit := n/32, uint(n%32)
		if p.bitmap[word]&(1<<bit) == 0 {
			p.bitmap[word] |= 1 << bit
			p.next = n + 1
			return n
		}
	}
	return -1
}

// Free returns id to the pool.
func (p *PidManager) Free(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	word, bit := id/32, uint(id%32)
	p.bitmap[word] &^= 1 << bit
}

// Pids and Tids are the package-level allocators ProcessManager keeps as
// a pid_manager/tid_manager pair; fork and context creation draw fresh
// ids from these rather than threading an allocator through every call
// site.
var (
	Pids PidManager
	Tids PidManager
)
