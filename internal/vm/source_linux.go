//go:build linux

package vm

// NewDefaultSource returns the production Source for this platform: the
// userfaultfd(2)-backed UffdSource. internal/dsm uses this unless the
// caller explicitly asked for the simulated backend (testing, or a
// platform without CAP_SYS_PTRACE-free uffd access).
func NewDefaultSource() Source { return NewUffdSource() }
