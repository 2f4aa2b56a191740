package statsprofile

import (
	"io"
	"net/http"

	"github.com/google/pprof/profile"

	"github.com/dreamware/torua-dsm/internal/dsmstats"
)

// Build turns a node's recent fault-latency samples into a pprof Profile
// with two sample types, "count" (always 1) and "latency" in nanoseconds
// (the default), one Sample per observed fault. It carries no call-stack
// locations — these are coherence-fault latencies, not CPU samples — so
// `go tool pprof -top` shows a flat list rather than a tree.
func Build(s *dsmstats.Stats) *profile.Profile {
	samples := s.Samples()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "count", Unit: "count"},
			{Type: "latency", Unit: "nanoseconds"},
		},
		DefaultSampleType: "latency",
		TimeNanos:         0,
		PeriodType:        &profile.ValueType{Type: "latency", Unit: "nanoseconds"},
		Period:            1,
	}
	for _, d := range samples {
		p.Sample = append(p.Sample, &profile.Sample{
			Value: []int64{1, d.Nanoseconds()},
		})
	}
	return p
}

// WriteTo serializes the profile built from s's current samples to w in
// the standard gzip-compressed pprof wire format.
func WriteTo(w io.Writer, s *dsmstats.Stats) error {
	return Build(s).Write(w)
}

// Handler returns an http.HandlerFunc suitable for mounting at
// /debug/dsmprof on the manager's control-plane mux.
func Handler(s *dsmstats.Stats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="dsm.pprof"`)
		if err := WriteTo(w, s); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
