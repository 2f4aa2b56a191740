package statsprofile

import (
	"bytes"
	"testing"
	"time"

	"github.com/dreamware/torua-dsm/internal/dsmstats"
)

func TestBuildSampleCount(t *testing.T) {
	s := dsmstats.New()
	s.Observe(5 * time.Microsecond)
	s.Observe(7 * time.Microsecond)

	p := Build(s)
	if len(p.Sample) != 2 {
		t.Fatalf("len(Sample) = %d, want 2", len(p.Sample))
	}
	if p.Sample[0].Value[1] != (5 * time.Microsecond).Nanoseconds() {
		t.Errorf("first sample latency = %d, want %d", p.Sample[0].Value[1], (5 * time.Microsecond).Nanoseconds())
	}
}

func TestWriteToProducesBytes(t *testing.T) {
	s := dsmstats.New()
	s.Observe(time.Millisecond)

	var buf bytes.Buffer
	if err := WriteTo(&buf, s); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("WriteTo wrote no bytes")
	}
}
