//go:build !nogpu

package gpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// buffer is a device storage buffer with a lazily created readback
// staging buffer.
type buffer struct {
	dev     *Device
	label   string
	size    int
	padded  uint64
	buf     hal.Buffer
	staging hal.Buffer
}

func (b *buffer) Size() int { return b.size }

// stagingLocked returns the readback buffer, creating it on first use.
func (b *buffer) stagingLocked() (hal.Buffer, error) {
	if b.staging != nil {
		return b.staging, nil
	}
	staging, err := b.dev.device.CreateBuffer(&hal.BufferDescriptor{
		Label: b.label + "_staging", Size: b.padded,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create staging buffer for %s: %w", b.label, err)
	}
	b.staging = staging
	return staging, nil
}

func (b *buffer) Release() {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	if b.buf == nil {
		return
	}
	if !b.dev.closed {
		_ = b.dev.flushLocked()
		b.dev.device.DestroyBuffer(b.buf)
		if b.staging != nil {
			b.dev.device.DestroyBuffer(b.staging)
		}
	}
	b.buf = nil
	b.staging = nil
}

// token is a value on the device's timeline fence. finish, when set, runs
// once after the value is reached.
type token struct {
	dev    *Device
	value  uint64
	finish func() error

	once sync.Once
	err  error
}

func (t *token) complete() error {
	t.once.Do(func() {
		if t.finish == nil {
			return
		}
		t.dev.mu.Lock()
		defer t.dev.mu.Unlock()
		if t.dev.closed {
			t.err = errClosed
			return
		}
		t.err = t.finish()
	})
	return t.err
}

// Wait submits the token's work if it is still being recorded and polls
// the fence until the value is reached or ctx is done.
func (t *token) Wait(ctx context.Context) error {
	if err := t.dev.ensureSubmitted(t.value); err != nil {
		return err
	}
	for {
		ok, err := t.dev.reached(t.value, t.dev.poll)
		if err != nil {
			return fmt.Errorf("gpu: wait for fence value %d: %w", t.value, err)
		}
		if ok {
			return t.complete()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (t *token) Done() bool {
	if t.dev.ensureSubmitted(t.value) != nil {
		return false
	}
	ok, err := t.dev.reached(t.value, 0)
	if err != nil || !ok {
		return false
	}
	_ = t.complete()
	return true
}

// Release is a no-op: the fence is shared by every token of the device.
func (t *token) Release() {}
