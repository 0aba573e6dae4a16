// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/fisheye/frame"
	"github.com/gogpu/fisheye/internal/kernel"
	"github.com/gogpu/fisheye/internal/parallel"
	"github.com/gogpu/fisheye/internal/pipeline"
	"github.com/gogpu/fisheye/resample"
)

// Name is the device name reported in logs and stats.
const Name = "host"

var errClosed = errors.New("host: device closed")

// Option configures a Device.
type Option func(*Device)

// WithWorkers sets the number of kernel worker goroutines. Zero or less
// uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(d *Device) { d.workers = n }
}

// WithPool runs kernels on an existing pool. The device does not close it.
func WithPool(p *parallel.Pool) Option {
	return func(d *Device) { d.pool = p }
}

// WithLogger sets the device logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// Device is a pipeline.Device running on the CPU.
type Device struct {
	workers  int
	pool     *parallel.Pool
	ownsPool bool
	log      *slog.Logger

	mu     sync.Mutex
	closed bool
	cmds   chan *command
	wg     sync.WaitGroup
}

var _ pipeline.Device = (*Device)(nil)

// New starts a host device.
func New(opts ...Option) *Device {
	d := &Device{log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(d)
	}
	if d.pool == nil {
		d.pool = parallel.NewPool(d.workers)
		d.ownsPool = true
	}
	d.cmds = make(chan *command, 64)
	d.wg.Add(1)
	go d.loop()
	d.log.Info("host device started", "workers", d.pool.Workers())
	return d
}

// Name returns "host".
func (d *Device) Name() string { return Name }

type command struct {
	name  string
	after []pipeline.Token
	run   func()
	tok   *token
}

// loop runs commands in submission order. A command whose dependency
// failed is skipped and fails with the dependency's error.
func (d *Device) loop() {
	defer d.wg.Done()
	for cmd := range d.cmds {
		var err error
		for _, dep := range cmd.after {
			if err = dep.Wait(context.Background()); err != nil {
				err = fmt.Errorf("%s: dependency failed: %w", cmd.name, err)
				break
			}
		}
		if err == nil {
			err = safeRun(cmd.run)
		}
		cmd.tok.complete(err)
	}
}

// safeRun converts a kernel panic into a command error.
func safeRun(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("host: kernel panic: %v", r)
		}
	}()
	fn()
	return nil
}

func (d *Device) enqueue(name string, run func(), after []pipeline.Token) (pipeline.Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errClosed
	}
	tok := newToken()
	d.cmds <- &command{name: name, after: after, run: run, tok: tok}
	return tok, nil
}

// Build validates the kernel source and returns a program evaluating the
// source's camera model on the CPU. The WGSL is never executed here; a
// custom kernel file is compiled only to surface its build log.
func (d *Device) Build(src pipeline.Source, desc frame.Descriptor) (pipeline.Program, error) {
	if err := kernel.Validate(src); err != nil {
		return nil, err
	}
	if src.Name != kernel.BuiltinName {
		if _, err := kernel.Compile(src); err != nil {
			return nil, err
		}
		d.log.Warn("custom kernel validated; host device runs the built-in warp", "kernel", src.Name)
	}
	d.log.Info("program built", "entry", src.Entry, "geometry", desc.String())
	return &program{src: src}, nil
}

// Allocate returns a zeroed host buffer.
func (d *Device) Allocate(label string, size int) (pipeline.Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %s: size %d", pipeline.ErrResourceAllocation, label, size)
	}
	return &buffer{label: label, data: make([]byte, size)}, nil
}

// Upload copies src into dst when the command runs.
func (d *Device) Upload(dst pipeline.Buffer, src []byte, after ...pipeline.Token) (pipeline.Token, error) {
	buf, ok := dst.(*buffer)
	if !ok {
		return nil, fmt.Errorf("host: foreign buffer %T", dst)
	}
	if len(src) > len(buf.data) {
		return nil, fmt.Errorf("host: upload of %d bytes into %s (%d bytes)", len(src), buf.label, len(buf.data))
	}
	return d.enqueue("upload", func() { copy(buf.data, src) }, after)
}

// Download copies src into dst when the command runs.
func (d *Device) Download(dst []byte, src pipeline.Buffer, after ...pipeline.Token) (pipeline.Token, error) {
	buf, ok := src.(*buffer)
	if !ok {
		return nil, fmt.Errorf("host: foreign buffer %T", src)
	}
	return d.enqueue("download", func() { copy(dst, buf.data) }, after)
}

// Dispatch runs the warp kernel over the frame described by args.
func (d *Device) Dispatch(prog pipeline.Program, args pipeline.KernelArgs, after ...pipeline.Token) (pipeline.Token, error) {
	p, ok := prog.(*program)
	if !ok {
		return nil, fmt.Errorf("host: foreign program %T", prog)
	}
	job, err := p.job(args)
	if err != nil {
		return nil, err
	}
	return d.enqueue("dispatch", func() { job.run(d.pool) }, after)
}

// Close waits for queued commands and stops the device.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.cmds)
	d.mu.Unlock()

	d.wg.Wait()
	if d.ownsPool {
		d.pool.Close()
	}
	return nil
}

type program struct {
	src pipeline.Source
}

func (p *program) Entry() string { return p.src.Entry }

func (p *program) Release() {}

func (p *program) job(args pipeline.KernelArgs) (*warpJob, error) {
	desc := frame.Descriptor{Width: args.Width, Height: args.Height, Stride: args.Stride, Format: args.Format}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	src, ok1 := args.Src.(*buffer)
	dst, ok2 := args.Dst.(*buffer)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("host: foreign kernel buffers")
	}
	if len(src.data) < desc.Size() || len(dst.data) < desc.Size() {
		return nil, fmt.Errorf("host: buffers smaller than %v", desc)
	}
	job := &warpJob{
		model:   p.src.Model,
		target:  p.src.Target,
		sampler: resample.Sampler{BorderCheck: p.src.BorderCheck},
		desc:    desc,
		src:     src.data,
		dst:     dst.data,
		weights: resample.WeightPlane{Cols: desc.Width, Rows: desc.Height},
	}
	if w, ok := args.Weights.(*buffer); ok && w != nil {
		job.weights.Data = pipeline.BytesFloat(w.data)[:desc.Pixels()]
	}
	if w, ok := args.WeightsOut.(*buffer); ok && w != nil {
		job.out = pipeline.BytesFloat(w.data)[:desc.Pixels()]
	}
	return job, nil
}

type buffer struct {
	label string
	data  []byte
}

func (b *buffer) Size() int { return len(b.data) }

func (b *buffer) Release() { b.data = nil }

// token is closed by the command goroutine when its command has run.
type token struct {
	done chan struct{}
	err  error
}

func newToken() *token {
	return &token{done: make(chan struct{})}
}

func (t *token) complete(err error) {
	t.err = err
	close(t.done)
}

func (t *token) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *token) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *token) Release() {}
