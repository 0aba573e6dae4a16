//go:build !nogpu

package gpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fisheye/frame"
	"github.com/gogpu/fisheye/internal/kernel"
	"github.com/gogpu/fisheye/internal/pipeline"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the device logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) { d.log = orNop(l) }
}

// WithPollInterval sets how long a token wait blocks on the fence per
// round before re-checking its context.
func WithPollInterval(p time.Duration) Option {
	return func(d *Device) {
		if p > 0 {
			d.poll = p
		}
	}
}

// Device is a pipeline.Device on a wgpu HAL device and queue.
//
// All commands go to one queue and signal one timeline fence; a token is a
// fence value. Uploads are queue writes followed by an empty submission
// that signals the fence. A dispatch is recorded into an open command
// encoder; downloads that depend on it append their buffer copies to the
// same encoder, and the encoder is submitted when the next upload or
// dispatch arrives or when one of its tokens is waited on.
type Device struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	external bool // shared device, not destroyed on Close
	name     string

	fence     hal.Fence
	reserved  uint64 // last fence value handed out
	submitted uint64 // last fence value submitted
	open      *openPass
	inflight  []submission

	poll   time.Duration
	log    *slog.Logger
	closed bool
}

var _ pipeline.Device = (*Device)(nil)

// submission is a command buffer owned by the queue until its fence value
// completes.
type submission struct {
	cmd   hal.CommandBuffer
	value uint64
}

// openPass is an encoder holding a dispatch and its downloads.
type openPass struct {
	encoder hal.CommandEncoder
	value   uint64
}

// Open creates a device on the first discrete or integrated Vulkan
// adapter, falling back to the first adapter found.
func Open(opts ...Option) (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", pipeline.ErrDeviceUnavailable)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %w", pipeline.ErrDeviceUnavailable, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no GPU adapters found", pipeline.ErrDeviceUnavailable)
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("%w: open device: %w", pipeline.ErrDeviceUnavailable, err)
	}
	d, err := newDevice(openDev.Device, openDev.Queue, "gpu:"+selected.Info.Name, opts)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	d.log.Info("gpu device opened", "adapter", selected.Info.Name)
	return d, nil
}

// FromHAL wraps an existing HAL device and queue. The device is not
// destroyed on Close.
func FromHAL(device hal.Device, queue hal.Queue, opts ...Option) (*Device, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("%w: nil HAL device or queue", pipeline.ErrDeviceUnavailable)
	}
	d, err := newDevice(device, queue, "gpu:shared", opts)
	if err != nil {
		return nil, err
	}
	d.external = true
	return d, nil
}

// FromProvider shares the device of an external provider such as a gogpu
// application. The provider must implement HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue.
func FromProvider(provider any, opts ...Option) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("%w: provider does not expose HAL types", pipeline.ErrDeviceUnavailable)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: provider HalDevice is not hal.Device", pipeline.ErrDeviceUnavailable)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: provider HalQueue is not hal.Queue", pipeline.ErrDeviceUnavailable)
	}
	return FromHAL(device, queue, opts...)
}

func newDevice(device hal.Device, queue hal.Queue, name string, opts []Option) (*Device, error) {
	d := &Device{
		device: device,
		queue:  queue,
		name:   name,
		poll:   5 * time.Millisecond,
		log:    orNop(nil),
	}
	for _, opt := range opts {
		opt(d)
	}
	fence, err := device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("%w: create fence: %w", pipeline.ErrDeviceUnavailable, err)
	}
	d.fence = fence
	return d, nil
}

// Name returns the adapter name.
func (d *Device) Name() string { return d.name }

var errClosed = errors.New("gpu: device closed")

// Build compiles the kernel and creates its compute pipeline. The kernel
// moves rows as 32-bit words, so the row stride must be a multiple of 4.
func (d *Device) Build(src pipeline.Source, desc frame.Descriptor) (pipeline.Program, error) {
	if !desc.WordAligned() {
		return nil, fmt.Errorf("%w: row stride %d is not a multiple of 4", pipeline.ErrUnsupportedGeometry, desc.RowStride())
	}
	spirv, err := kernel.Compile(src)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errClosed
	}
	if err := d.flushLocked(); err != nil {
		return nil, err
	}
	p, err := newProgram(d, src, desc, spirv)
	if err != nil {
		return nil, err
	}
	d.log.Info("program built", "entry", src.Entry, "kernel", src.Name, "geometry", desc.String())
	return p, nil
}

// Allocate creates a storage buffer of size bytes, rounded up to a
// multiple of 4.
func (d *Device) Allocate(label string, size int) (pipeline.Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %s: size %d", pipeline.ErrResourceAllocation, label, size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errClosed
	}
	padded := uint64((size + 3) &^ 3)
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label, Size: padded,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", pipeline.ErrResourceAllocation, label, err)
	}
	return &buffer{dev: d, label: label, size: size, padded: padded, buf: buf}, nil
}

// Upload writes src into dst. The write is ordered before every later
// submission on the queue.
func (d *Device) Upload(dst pipeline.Buffer, src []byte, _ ...pipeline.Token) (pipeline.Token, error) {
	buf, err := d.own(dst)
	if err != nil {
		return nil, err
	}
	if len(src) > buf.size {
		return nil, fmt.Errorf("gpu: upload of %d bytes into %s (%d bytes)", len(src), buf.label, buf.size)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errClosed
	}
	if err := d.flushLocked(); err != nil {
		return nil, err
	}
	d.queue.WriteBuffer(buf.buf, 0, padTo4(src))
	value := d.reserveLocked()
	if err := d.queue.Submit(nil, d.fence, value); err != nil {
		return nil, fmt.Errorf("gpu: submit upload: %w", err)
	}
	d.submitted = value
	return &token{dev: d, value: value}, nil
}

// Dispatch records the warp kernel into a new command encoder.
func (d *Device) Dispatch(prog pipeline.Program, args pipeline.KernelArgs, _ ...pipeline.Token) (pipeline.Token, error) {
	p, ok := prog.(*program)
	if !ok || p.dev != d {
		return nil, fmt.Errorf("gpu: foreign program %T", prog)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errClosed
	}
	if err := d.flushLocked(); err != nil {
		return nil, err
	}
	bg, err := p.bindGroup(args)
	if err != nil {
		return nil, err
	}

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "warp_encoder"})
	if err != nil {
		return nil, fmt.Errorf("gpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("warp"); err != nil {
		return nil, fmt.Errorf("gpu: begin encoding: %w", err)
	}
	x, y := kernel.Grid(p.desc)
	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "warp_pass"})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(x, y, 1)
	pass.End()

	d.open = &openPass{encoder: encoder, value: d.reserveLocked()}
	return &token{dev: d, value: d.open.value}, nil
}

// Download copies src into dst. The buffer copy joins the open dispatch
// encoder when there is one; dst is filled when the token is first
// observed complete.
func (d *Device) Download(dst []byte, src pipeline.Buffer, _ ...pipeline.Token) (pipeline.Token, error) {
	buf, err := d.own(src)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errClosed
	}
	staging, err := buf.stagingLocked()
	if err != nil {
		return nil, err
	}

	var value uint64
	if d.open != nil {
		d.open.encoder.CopyBufferToBuffer(buf.buf, staging, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: 0, Size: buf.padded},
		})
		value = d.open.value
	} else {
		encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "download_encoder"})
		if err != nil {
			return nil, fmt.Errorf("gpu: create command encoder: %w", err)
		}
		if err := encoder.BeginEncoding("download"); err != nil {
			return nil, fmt.Errorf("gpu: begin encoding: %w", err)
		}
		encoder.CopyBufferToBuffer(buf.buf, staging, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: 0, Size: buf.padded},
		})
		d.open = &openPass{encoder: encoder, value: d.reserveLocked()}
		value = d.open.value
	}

	n := min(len(dst), buf.size)
	readback := func() error {
		scratch := make([]byte, buf.padded)
		if err := d.queue.ReadBuffer(staging, 0, scratch); err != nil {
			return fmt.Errorf("gpu: readback %s: %w", buf.label, err)
		}
		copy(dst[:n], scratch)
		return nil
	}
	return &token{dev: d, value: value, finish: readback}, nil
}

// reserveLocked hands out the next fence value.
func (d *Device) reserveLocked() uint64 {
	d.reserved++
	return d.reserved
}

// flushLocked submits the open encoder, if any.
func (d *Device) flushLocked() error {
	if d.open == nil {
		return nil
	}
	op := d.open
	d.open = nil
	cmd, err := op.encoder.EndEncoding()
	if err != nil {
		op.encoder.DiscardEncoding()
		return fmt.Errorf("gpu: end encoding: %w", err)
	}
	if err := d.queue.Submit([]hal.CommandBuffer{cmd}, d.fence, op.value); err != nil {
		d.device.FreeCommandBuffer(cmd)
		return fmt.Errorf("gpu: submit: %w", err)
	}
	d.submitted = op.value
	d.inflight = append(d.inflight, submission{cmd: cmd, value: op.value})
	return nil
}

// retireLocked frees command buffers whose fence value has completed.
func (d *Device) retireLocked(completed uint64) {
	kept := d.inflight[:0]
	for _, s := range d.inflight {
		if s.value <= completed {
			d.device.FreeCommandBuffer(s.cmd)
			continue
		}
		kept = append(kept, s)
	}
	d.inflight = kept
}

// ensureSubmitted flushes the open encoder if it carries value.
func (d *Device) ensureSubmitted(value uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed
	}
	if value > d.submitted {
		return d.flushLocked()
	}
	return nil
}

// reached reports whether the fence has passed value, blocking up to
// timeout.
func (d *Device) reached(value uint64, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, errClosed
	}
	ok, err := d.device.Wait(d.fence, value, timeout)
	if ok && err == nil {
		d.retireLocked(value)
	}
	return ok, err
}

func (d *Device) own(b pipeline.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok || buf.dev != d {
		return nil, fmt.Errorf("gpu: foreign buffer %T", b)
	}
	if buf.buf == nil {
		return nil, fmt.Errorf("gpu: buffer %s used after release", buf.label)
	}
	return buf, nil
}

// Close submits pending work, waits for the queue to go idle, and releases
// the fence. A device obtained from a provider is left alive.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	err := d.flushLocked()
	if d.submitted > 0 {
		ok, werr := d.device.Wait(d.fence, d.submitted, 5*time.Second)
		switch {
		case werr != nil:
			err = errors.Join(err, fmt.Errorf("gpu: wait for idle: %w", werr))
		case !ok:
			err = errors.Join(err, errors.New("gpu: wait for idle: timeout"))
		}
	}
	d.retireLocked(d.submitted)
	d.closed = true
	d.device.DestroyFence(d.fence)
	if !d.external {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.queue = nil
	d.instance = nil
	return err
}

// padTo4 returns b, or a zero-padded copy when its length is not a
// multiple of 4.
func padTo4(b []byte) []byte {
	if len(b)%4 == 0 {
		return b
	}
	out := make([]byte, (len(b)+3)&^3)
	copy(out, b)
	return out
}
