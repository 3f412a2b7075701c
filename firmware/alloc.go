package firmware

import (
	"errors"
	"sync/atomic"
)

type AllocatorState int32

const (
	Uninitialized AllocatorState = iota
	Active
	Retired
)

func (s AllocatorState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	case Retired:
		return "retired"
	}
	return "unknown"
}

var ErrAllocatorState = errors.New("firmware: allocator cannot be activated")

// pool is the pair of pool services backing an Allocator.
type pool struct {
	allocate func(size int) ([]byte, error)
	free     func(buf []byte) error
}

// Allocator hands out memory from the firmware pool between Activate and
// Retire. Outside of that window Allocate returns nil and Free does nothing.
type Allocator struct {
	state atomic.Int32
	pool  atomic.Pointer[pool]
}

// Activate binds the allocator to the pool services of bs. It can only be
// called once.
func (a *Allocator) Activate(bs *BootServices) error {
	if bs == nil || bs.AllocatePool == nil || bs.FreePool == nil {
		return ErrMissingService
	}
	if !a.state.CompareAndSwap(int32(Uninitialized), int32(Active)) {
		return ErrAllocatorState
	}
	// Allocate fails closed until the pool is stored.
	a.pool.Store(&pool{allocate: bs.AllocatePool, free: bs.FreePool})
	return nil
}

// Retire ends the allocation window. It must be called before the boot
// services are exited.
func (a *Allocator) Retire() {
	a.state.Store(int32(Retired))
	a.pool.Store(nil)
}

func (a *Allocator) State() AllocatorState {
	return AllocatorState(a.state.Load())
}

func (a *Allocator) current() *pool {
	if a.State() != Active {
		return nil
	}
	return a.pool.Load()
}

// Allocate returns a buffer of size bytes, or nil if the allocator is not
// active or the firmware is out of memory.
func (a *Allocator) Allocate(size int) []byte {
	p := a.current()
	if p == nil {
		return nil
	}
	buf, err := p.allocate(size)
	if err != nil {
		return nil
	}
	return buf
}

// Free returns buf to the firmware pool. It returns the firmware's error, and
// nil without doing anything if the allocator is not active.
func (a *Allocator) Free(buf []byte) error {
	p := a.current()
	if p == nil || buf == nil {
		return nil
	}
	return p.free(buf)
}
