//go:build linux

package vm

import (
	"context"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/dreamware/torua-dsm/internal/dsmerr"
)

// ioctl numbers for the UFFDIO_* family, computed the same way
// linux/userfaultfd.h does: _IOWR/_IOR(0xAA, nr, struct).
const (
	_UFFDIO_API         = 0xc018aa3f
	_UFFDIO_REGISTER    = 0xc020aa00
	_UFFDIO_UNREGISTER  = 0x8010aa01
	_UFFDIO_COPY        = 0xc028aa03
	_UFFDIO_ZEROPAGE    = 0xc020aa04
	_UFFDIO_WRITEPROTECT = 0xc018aa06
)

const (
	_UFFD_API = 0xAA

	_UFFDIO_REGISTER_MODE_MISSING = 1 << 0
	_UFFDIO_REGISTER_MODE_WP      = 1 << 1

	_UFFDIO_WRITEPROTECT_MODE_WP = 1 << 0

	_UFFD_PAGEFAULT_FLAG_WRITE = 1 << 0
	_UFFD_PAGEFAULT_FLAG_WP    = 1 << 1

	_UFFD_EVENT_PAGEFAULT = 0x12

	_uffdMsgSize = 32
)

type uffdioAPI struct {
	api      uint64
	features uint64
	ioctls   uint64
}

var _ [24]byte = [unsafe.Sizeof(uffdioAPI{})]byte{}

type uffdioRange struct {
	start uint64
	len   uint64
}

var _ [16]byte = [unsafe.Sizeof(uffdioRange{})]byte{}

type uffdioRegister struct {
	rng    uffdioRange
	mode   uint64
	ioctls uint64
}

var _ [32]byte = [unsafe.Sizeof(uffdioRegister{})]byte{}

type uffdioCopy struct {
	dst  uint64
	src  uint64
	len  uint64
	mode uint64
	copy int64
}

var _ [40]byte = [unsafe.Sizeof(uffdioCopy{})]byte{}

type uffdioWriteprotect struct {
	rng  uffdioRange
	mode uint64
}

var _ [24]byte = [unsafe.Sizeof(uffdioWriteprotect{})]byte{}

// UffdSource is the production vm.Source: one userfaultfd(2) descriptor per
// Region, armed in MISSING|WP mode so both "page not mapped" and "write to
// read-only page" trap through the same fd.
type UffdSource struct{}

// NewUffdSource returns the uffd-backed Source. Callers on a kernel without
// CAP_SYS_PTRACE or vm.unprivileged_userfaultfd=1 will get a KindConfig
// error from the first Reserve call, not from this constructor.
func NewUffdSource() *UffdSource { return &UffdSource{} }

func (s *UffdSource) Reserve(ctx context.Context, numPages uint64, pageSize int) (Region, error) {
	size := int(numPages) * pageSize

	data, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, dsmerr.Wrap(dsmerr.KindAlloc, "mmap reservation", err)
	}
	base := uintptr(unsafe.Pointer(&data[0]))

	uffdFd, _, errno := unix.Syscall(unix.SYS_USERFAULTFD, unix.O_CLOEXEC|unix.O_NONBLOCK, 0, 0)
	if errno != 0 {
		unix.Munmap(data)
		return nil, dsmerr.Wrap(dsmerr.KindConfig, "userfaultfd(2) unavailable (need CAP_SYS_PTRACE or vm.unprivileged_userfaultfd=1)", errno)
	}

	api := uffdioAPI{api: _UFFD_API, features: 0}
	if err := ioctl(int(uffdFd), _UFFDIO_API, unsafe.Pointer(&api)); err != nil {
		unix.Close(int(uffdFd))
		unix.Munmap(data)
		return nil, dsmerr.Wrap(dsmerr.KindConfig, "UFFDIO_API handshake", err)
	}

	reg := uffdioRegister{
		rng:  uffdioRange{start: uint64(base), len: uint64(size)},
		mode: _UFFDIO_REGISTER_MODE_MISSING | _UFFDIO_REGISTER_MODE_WP,
	}
	if err := ioctl(int(uffdFd), _UFFDIO_REGISTER, unsafe.Pointer(&reg)); err != nil {
		unix.Close(int(uffdFd))
		unix.Munmap(data)
		return nil, dsmerr.Wrap(dsmerr.KindAlloc, "UFFDIO_REGISTER", err)
	}

	rctx, cancel := context.WithCancel(ctx)
	r := &uffdRegion{
		fd:       int(uffdFd),
		data:     data,
		base:     base,
		pageSize: pageSize,
		numPages: numPages,
		faults:   make(chan Fault, 64),
		cancel:   cancel,
	}
	go r.pollLoop(rctx)
	return r, nil
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// uffdRegion is one reserved range backed by a single userfaultfd.
type uffdRegion struct {
	fd       int
	data     []byte
	base     uintptr
	pageSize int
	numPages uint64

	faults chan Fault
	cancel context.CancelFunc

	closeOnce sync.Once
}

func (r *uffdRegion) Base() uintptr        { return r.base }
func (r *uffdRegion) PageSize() int        { return r.pageSize }
func (r *uffdRegion) NumPages() uint64     { return r.numPages }
func (r *uffdRegion) Faults() <-chan Fault { return r.faults }

func (r *uffdRegion) addr(index uint64) uintptr {
	return r.base + uintptr(index)*uintptr(r.pageSize)
}

func (r *uffdRegion) Populate(index uint64, data []byte, access Access) error {
	if len(data) > r.pageSize {
		return dsmerr.Protocol("populate: payload %d bytes exceeds page size %d", len(data), r.pageSize)
	}
	src := make([]byte, r.pageSize)
	copy(src, data)

	var mode uint64
	if access == ReadOnly {
		mode = 1 << 1 // UFFDIO_COPY_MODE_WP
	}

	cp := uffdioCopy{
		dst:  uint64(r.addr(index)),
		src:  uint64(uintptr(unsafe.Pointer(&src[0]))),
		len:  uint64(r.pageSize),
		mode: mode,
	}
	if err := ioctl(r.fd, _UFFDIO_COPY, unsafe.Pointer(&cp)); err != nil {
		return dsmerr.Wrap(dsmerr.KindAlloc, "UFFDIO_COPY", err)
	}
	return nil
}

func (r *uffdRegion) SetAccess(index uint64, access Access) error {
	switch access {
	case ReadOnly:
		wp := uffdioWriteprotect{
			rng:  uffdioRange{start: uint64(r.addr(index)), len: uint64(r.pageSize)},
			mode: _UFFDIO_WRITEPROTECT_MODE_WP,
		}
		if err := ioctl(r.fd, _UFFDIO_WRITEPROTECT, unsafe.Pointer(&wp)); err != nil {
			return dsmerr.Wrap(dsmerr.KindAlloc, "UFFDIO_WRITEPROTECT set", err)
		}
		return nil
	case ReadWrite:
		wp := uffdioWriteprotect{
			rng: uffdioRange{start: uint64(r.addr(index)), len: uint64(r.pageSize)},
		}
		if err := ioctl(r.fd, _UFFDIO_WRITEPROTECT, unsafe.Pointer(&wp)); err != nil {
			return dsmerr.Wrap(dsmerr.KindAlloc, "UFFDIO_WRITEPROTECT clear", err)
		}
		return nil
	case NoAccess:
		start := r.addr(index)
		data := unsafe.Slice((*byte)(unsafe.Pointer(start)), r.pageSize)
		if err := unix.Madvise(data, unix.MADV_DONTNEED); err != nil {
			return dsmerr.Wrap(dsmerr.KindAlloc, "MADV_DONTNEED invalidate", err)
		}
		return nil
	default:
		return dsmerr.Protocol("setaccess: unknown access level %v", access)
	}
}

func (r *uffdRegion) ReadPage(index uint64) ([]byte, error) {
	start := r.addr(index)
	out := make([]byte, r.pageSize)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(start)), r.pageSize))
	return out, nil
}

func (r *uffdRegion) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		unix.Close(r.fd)
		unix.Munmap(r.data)
		close(r.faults)
	})
	return nil
}

// pollLoop reads uffd_msg records off the fd and translates UFFD_EVENT_PAGEFAULT
// into Fault values pushed to r.faults. It exits when ctx is canceled via
// Close.
func (r *uffdRegion) pollLoop(ctx context.Context) {
	var buf [_uffdMsgSize]byte
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fds := []unix.PollFd{{Fd: int32(r.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}

		nr, err := unix.Read(r.fd, buf[:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return
		}
		if nr < _uffdMsgSize {
			continue
		}

		event := buf[0]
		if event != _UFFD_EVENT_PAGEFAULT {
			continue
		}

		flags := *(*uint64)(unsafe.Pointer(&buf[8]))
		addr := *(*uint64)(unsafe.Pointer(&buf[16]))

		kind := FaultRead
		if flags&(_UFFD_PAGEFAULT_FLAG_WRITE|_UFFD_PAGEFAULT_FLAG_WP) != 0 {
			kind = FaultWrite
		}

		index := (uintptr(addr) - r.base) / uintptr(r.pageSize)
		f := Fault{
			Addr:  uintptr(addr),
			Kind:  kind,
			Index: uint64(index),
		}
		select {
		case r.faults <- f:
		case <-ctx.Done():
			return
		}
	}
}
