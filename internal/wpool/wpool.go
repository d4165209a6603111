// Package wpool implements the per-worker MPI window-table pool: one
// process-wide, pre-allocated table of 1<<MaxWindow scratch mpi.Int
// slots per execution unit, reusable across sessions. mpi.ExpModPooled
// can copy its window table into a slot's table; the handshake's own
// modular exponentiations call mpi.ExpMod directly and do not acquire
// a slot.
// Grounded on bignum.c's DEFINE_PER_CPU(TlsMpi *, g_buf) and
// ote.Manager's own worker-indexed OT port allocation.
package wpool

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/kovaden/tempesta/internal/mpi"
)

// slot is one worker's pre-allocated window table plus a Montgomery
// R^2 mod N scratch and its ready flag; nothing in this package fills
// rr, which is left to the slot's holder.
type slot struct {
	mu      sync.Mutex
	table   [1 << mpi.MaxWindow]mpi.Int
	rr      mpi.Int
	rrReady bool
}

// Pool is the process-wide collection of per-worker slots, indexed by
// worker id in [0, NumWorkers).
type Pool struct {
	slots []*slot
}

var (
	global   *Pool
	globalMu sync.Mutex
)

// Init allocates a Pool sized to GOMAXPROCS. Calling Init again without
// an intervening Close is a programming error.
func Init() *Pool {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		panic("wpool: Init called twice without Close")
	}
	n := runtime.GOMAXPROCS(0)
	p := &Pool{slots: make([]*slot, n)}
	for i := range p.slots {
		p.slots[i] = &slot{}
	}
	global = p
	return p
}

// Close releases the process-wide pool so Init may be called again
// (tests call Init/Close per-suite).
func Close() {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = nil
}

// Get returns the process-wide pool, panicking if Init was never
// called — mirrors ote/manager.go's fail-fast style for a mis-wired
// manager (session_manager.SessionManager.GetSession on an unknown
// key logs and returns nil instead, but an un-initialised scratch pool
// is a startup bug, not a runtime condition, so this panics instead).
func Get() *Pool {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		panic("wpool: Get called before Init")
	}
	return global
}

// NumWorkers reports how many worker slots this pool holds.
func (p *Pool) NumWorkers() int { return len(p.slots) }

// Acquire locks and returns the window table and RR-mod-N scratch for
// worker id. The caller must call Release when done; since each
// connection's handshake runs single-threaded, no worker ever
// re-enters Acquire while already holding its own slot.
func (p *Pool) Acquire(worker int) (table *[1 << mpi.MaxWindow]mpi.Int, rr *mpi.Int, rrReady *bool, release func()) {
	if worker < 0 || worker >= len(p.slots) {
		worker = worker % len(p.slots)
		if worker < 0 {
			worker += len(p.slots)
		}
	}
	s := p.slots[worker]
	s.mu.Lock()
	return &s.table, &s.rr, &s.rrReady, s.mu.Unlock
}

// WorkerID maps a caller-chosen affinity key (e.g. goroutine-local
// connection shard) into a worker slot index.
func WorkerID(key int, numWorkers int) int {
	if numWorkers <= 0 {
		panic(fmt.Sprintf("wpool: invalid numWorkers %d", numWorkers))
	}
	w := key % numWorkers
	if w < 0 {
		w += numWorkers
	}
	return w
}
