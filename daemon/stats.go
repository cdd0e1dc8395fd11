package daemon

import (
	"sync"
	"sync/atomic"

	"github.com/branchfs/branchfs/wire"
)

// stats holds the daemon-wide counters behind the introspection
// surface. Aggregates are atomics; the per-operation breakdown sits
// behind a mutex.
type stats struct {
	connections    atomic.Uint64
	processes      atomic.Uint64
	requests       atomic.Uint64
	errors         atomic.Uint64
	bytesReceived  atomic.Uint64
	bytesResponded atomic.Uint64

	mu    sync.Mutex
	perOp map[wire.Tag]uint64
}

func newStats() *stats {
	return &stats{perOp: make(map[wire.Tag]uint64)}
}

func (s *stats) connOpened()  { s.connections.Add(1) }
func (s *stats) connClosed()  { s.connections.Add(^uint64(0)) }
func (s *stats) processSeen() { s.processes.Add(1) }
func (s *stats) failure()     { s.errors.Add(1) }

func (s *stats) request(n int) {
	s.requests.Add(1)
	s.bytesReceived.Add(uint64(n))
}

func (s *stats) responded(n int) {
	s.bytesResponded.Add(uint64(n))
}

func (s *stats) op(tag wire.Tag) {
	s.mu.Lock()
	s.perOp[tag]++
	s.mu.Unlock()
}

// opCounts returns the per-operation request breakdown.
func (s *stats) opCounts() map[wire.Tag]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[wire.Tag]uint64, len(s.perOp))
	for k, v := range s.perOp {
		out[k] = v
	}
	return out
}

func (s *stats) snapshot() wire.StatsInfo {
	return wire.StatsInfo{
		Connections:    s.connections.Load(),
		Processes:      s.processes.Load(),
		Requests:       s.requests.Load(),
		Errors:         s.errors.Load(),
		BytesReceived:  s.bytesReceived.Load(),
		BytesResponded: s.bytesResponded.Load(),
	}
}
