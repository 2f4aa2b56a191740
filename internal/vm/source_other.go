//go:build !linux

package vm

// NewDefaultSource returns the simulated Source on platforms with no
// userfaultfd(2) support. internal/dsm falls back to this automatically
// rather than failing to start.
func NewDefaultSource() Source { return NewSimSource() }
