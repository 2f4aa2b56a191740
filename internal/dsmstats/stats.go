package dsmstats

import (
	"sync"
	"sync/atomic"
	"time"
)

// sampleCapacity bounds the ring buffer internal/statsprofile reads from
// when rendering a pprof profile of recent fault latencies; stats() itself
// only ever reports the aggregate min/avg/max spec §6 asks for.
const sampleCapacity = 1024

// Counters is the point-in-time snapshot returned by stats() (spec §6).
type Counters struct {
	TotalFaults        uint64
	ReadFaults         uint64
	WriteFaults        uint64
	PagesFetched       uint64
	PagesSent          uint64
	InvalidationsSent  uint64
	InvalidationsRecvd uint64
	BytesSent          uint64
	BytesRecvd         uint64
	FaultLatencyAvgUs  uint64
	FaultLatencyMinUs  uint64
	FaultLatencyMaxUs  uint64
}

// Stats accumulates the counters spec §6 requires, updated atomically from
// whichever goroutine observes the event so recording a count takes no
// lock; only the latency-sample ring buffer is guarded by samplesMu.
type Stats struct {
	totalFaults        uint64
	readFaults         uint64
	writeFaults        uint64
	pagesFetched       uint64
	pagesSent          uint64
	invalidationsSent  uint64
	invalidationsRecvd uint64
	bytesSent          uint64
	bytesRecvd         uint64

	latencySumUs uint64
	latencyCount uint64
	latencyMinUs uint64
	latencyMaxUs uint64

	samplesMu sync.Mutex
	samples   []time.Duration
	sampleAt  int
}

// New returns a zeroed Stats.
func New() *Stats { return &Stats{} }

func (s *Stats) Fault()      { atomic.AddUint64(&s.totalFaults, 1) }
func (s *Stats) ReadFault()  { atomic.AddUint64(&s.readFaults, 1) }
func (s *Stats) WriteFault() { atomic.AddUint64(&s.writeFaults, 1) }

func (s *Stats) PageFetched(bytes int) {
	atomic.AddUint64(&s.pagesFetched, 1)
	atomic.AddUint64(&s.bytesRecvd, uint64(bytes))
}

func (s *Stats) PageSent(bytes int) {
	atomic.AddUint64(&s.pagesSent, 1)
	atomic.AddUint64(&s.bytesSent, uint64(bytes))
}

func (s *Stats) InvalidateSent()  { atomic.AddUint64(&s.invalidationsSent, 1) }
func (s *Stats) InvalidateReceived() { atomic.AddUint64(&s.invalidationsRecvd, 1) }

// Observe records the latency of one resolved fault, measured by the
// caller from the moment a trap was classified to the moment the access
// was safe to re-execute.
func (s *Stats) Observe(d time.Duration) {
	us := uint64(d.Microseconds())
	atomic.AddUint64(&s.latencySumUs, us)
	atomic.AddUint64(&s.latencyCount, 1)

	for {
		cur := atomic.LoadUint64(&s.latencyMinUs)
		if cur != 0 && cur <= us {
			break
		}
		if atomic.CompareAndSwapUint64(&s.latencyMinUs, cur, us) {
			break
		}
	}
	for {
		cur := atomic.LoadUint64(&s.latencyMaxUs)
		if cur >= us {
			break
		}
		if atomic.CompareAndSwapUint64(&s.latencyMaxUs, cur, us) {
			break
		}
	}

	s.samplesMu.Lock()
	if len(s.samples) < sampleCapacity {
		s.samples = append(s.samples, d)
	} else {
		s.samples[s.sampleAt] = d
		s.sampleAt = (s.sampleAt + 1) % sampleCapacity
	}
	s.samplesMu.Unlock()
}

// Samples returns a copy of the most recent (up to sampleCapacity) fault
// latencies recorded by Observe, for internal/statsprofile to render as a
// pprof profile.
func (s *Stats) Samples() []time.Duration {
	s.samplesMu.Lock()
	defer s.samplesMu.Unlock()
	out := make([]time.Duration, len(s.samples))
	copy(out, s.samples)
	return out
}

// Snapshot returns a consistent-enough point-in-time read of every
// counter, for the stats() application API call.
func (s *Stats) Snapshot() Counters {
	count := atomic.LoadUint64(&s.latencyCount)
	var avg uint64
	if count > 0 {
		avg = atomic.LoadUint64(&s.latencySumUs) / count
	}
	return Counters{
		TotalFaults:        atomic.LoadUint64(&s.totalFaults),
		ReadFaults:         atomic.LoadUint64(&s.readFaults),
		WriteFaults:        atomic.LoadUint64(&s.writeFaults),
		PagesFetched:       atomic.LoadUint64(&s.pagesFetched),
		PagesSent:          atomic.LoadUint64(&s.pagesSent),
		InvalidationsSent:  atomic.LoadUint64(&s.invalidationsSent),
		InvalidationsRecvd: atomic.LoadUint64(&s.invalidationsRecvd),
		BytesSent:          atomic.LoadUint64(&s.bytesSent),
		BytesRecvd:         atomic.LoadUint64(&s.bytesRecvd),
		FaultLatencyAvgUs:  avg,
		FaultLatencyMinUs:  atomic.LoadUint64(&s.latencyMinUs),
		FaultLatencyMaxUs:  atomic.LoadUint64(&s.latencyMaxUs),
	}
}
