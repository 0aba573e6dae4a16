// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fisheye

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gogpu/fisheye/camera"
	"github.com/gogpu/fisheye/frame"
	"github.com/gogpu/fisheye/internal/host"
	"github.com/gogpu/fisheye/internal/kernel"
	"github.com/gogpu/fisheye/internal/pipeline"
)

// Filter warps frames from the configured fisheye camera into a pinhole
// view.
//
// A filter that cannot initialize (no device, a kernel that does not
// build, allocation failure) does not fail: it logs the error once and
// copies frames through unchanged until it is reconfigured. Ready reports
// which mode it is in.
//
// ProcessFrame, SetKernelFile, SetEntryPoint and Close are safe for
// concurrent use; frames are processed one call at a time.
type Filter struct {
	mu sync.Mutex

	id    uuid.UUID
	cfg   Config
	model camera.Model
	opts  options
	log   *slog.Logger

	dev       pipeline.Device
	ownDevice bool
	sched     *pipeline.Scheduler
	initErr   error

	// failedGeometry is set when a frame of that geometry failed to
	// build; a frame of another geometry retries.
	failedGeometry frame.Descriptor
	geometryFailed bool

	stale   atomic.Bool
	watcher *kernel.Watcher
	closed  bool

	frames   uint64
	bypassed uint64
	failed   uint64
}

// Stats is a snapshot of filter counters.
type Stats struct {
	// Frames is the number of frames passed to ProcessFrame.
	Frames uint64

	// Bypassed frames were copied through without warping.
	Bypassed uint64

	// Failed frames returned an execution error.
	Failed uint64

	// Reallocations counts geometry changes of the current pipeline.
	Reallocations uint64

	Device string
	Ready  bool
}

// New validates cfg and initializes the filter. Only configuration errors
// are returned; see Filter for initialization failures.
func New(cfg Config, opts ...Option) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	model, err := cfg.Model()
	if err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	f := &Filter{
		id:    uuid.New(),
		cfg:   cfg,
		model: model,
		opts:  o,
	}
	f.log = orNop(o.logger).With("filter", f.id.String())
	if o.device != nil {
		f.dev = o.device
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	if cfg.Kernel.Watch {
		f.watch()
	}
	return f, nil
}

// ID returns the filter instance ID used in log records.
func (f *Filter) ID() uuid.UUID { return f.id }

// Ready reports whether frames are being warped. A filter that is not
// ready copies frames through.
func (f *Filter) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sched != nil && f.initErr == nil
}

// InitError returns the error that put the filter into bypass, or nil.
func (f *Filter) InitError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initErr
}

// Model returns the source camera model.
func (f *Filter) Model() camera.Model { return f.model }

// ProcessFrame warps in into out. in and out must share a descriptor.
//
// In bypass, out receives a byte-identical copy of in. When the device
// fails on this frame, out also receives a copy and an error wrapping
// ErrExecution is returned; the pipeline stays usable for later frames.
func (f *Filter) ProcessFrame(ctx context.Context, in, out *frame.Frame) error {
	if err := frame.CheckPair(in, out); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.frames++
	out.Seq, out.TraceID = in.Seq, in.TraceID

	if f.stale.Swap(false) {
		f.log.Info("kernel changed, reinitializing")
		f.init()
	} else if f.sched == nil && f.geometryFailed && in.Descriptor != f.failedGeometry {
		f.log.Info("frame geometry changed, retrying initialization", "geometry", in.Descriptor.String())
		f.init()
	}
	if f.sched == nil {
		return f.bypass(in, out)
	}

	err := f.sched.Process(ctx, in, out)
	switch {
	case err == nil:
		return nil
	case isInitError(err):
		f.fail(err)
		f.failedGeometry, f.geometryFailed = in.Descriptor, true
		return f.bypass(in, out)
	case errors.Is(err, ErrExecution):
		f.failed++
		f.log.Warn("frame failed", "seq", in.Seq, "trace", in.TraceID, "err", err)
		if cerr := out.CopyFrom(in); cerr != nil {
			return errors.Join(err, cerr)
		}
		return err
	default:
		return err
	}
}

func (f *Filter) bypass(in, out *frame.Frame) error {
	f.bypassed++
	f.log.Debug("bypass", "seq", in.Seq)
	return out.CopyFrom(in)
}

// SetKernelFile points the filter at another kernel file. Empty selects
// the built-in kernel. The filter reinitializes on the next frame.
func (f *Filter) SetKernelFile(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.Kernel.File = path
	if f.cfg.Kernel.Watch {
		f.watch()
	}
	f.stale.Store(true)
}

// SetEntryPoint changes the kernel entry point. Empty selects the
// default. The filter reinitializes on the next frame.
func (f *Filter) SetEntryPoint(name string) error {
	if name != "" && !entryName.MatchString(name) {
		return fmt.Errorf("%w: entry point %q is not an identifier", ErrInvalidConfig, name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.Kernel.Entry = name
	f.stale.Store(true)
	return nil
}

// Stats returns a snapshot of the filter counters.
func (f *Filter) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := Stats{
		Frames:   f.frames,
		Bypassed: f.bypassed,
		Failed:   f.failed,
		Ready:    f.sched != nil && f.initErr == nil,
	}
	if f.dev != nil {
		st.Device = f.dev.Name()
	}
	if f.sched != nil {
		st.Reallocations = f.sched.Stats().Reallocations
	}
	return st
}

// Close drains in-flight frames and releases the device. Close is
// idempotent.
func (f *Filter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	var errs []error
	if f.watcher != nil {
		errs = append(errs, f.watcher.Close())
		f.watcher = nil
	}
	errs = append(errs, f.teardown())
	if f.dev != nil && f.ownDevice {
		errs = append(errs, f.dev.Close())
	}
	f.dev = nil
	return errors.Join(errs...)
}

// init replaces the pipeline. Failures are logged once and leave the
// filter in bypass. Must be called with f.mu held.
func (f *Filter) init() {
	if err := f.teardown(); err != nil {
		f.log.Warn("drain before reinitialization failed", "err", err)
	}
	f.initErr = nil
	f.geometryFailed = false
	if err := f.start(); err != nil {
		f.fail(err)
	}
}

func (f *Filter) fail(err error) {
	if terr := f.teardown(); terr != nil {
		f.log.Debug("teardown after failure", "err", terr)
	}
	f.initErr = err
	f.log.Error("initialization failed, passing frames through", "err", err)
}

func (f *Filter) start() error {
	if f.dev == nil {
		dev, err := f.openDevice()
		if err != nil {
			return err
		}
		f.dev, f.ownDevice = dev, true
	}

	b := f.builder()
	name, code, err := kernel.Load(b.File)
	if err != nil {
		return &BuildError{Entry: b.EntryPoint(), Err: err}
	}
	if err := kernel.Validate(pipeline.Source{Name: name, Code: code, Entry: b.EntryPoint()}); err != nil {
		return err
	}

	s, err := pipeline.New(pipeline.Config{
		Slots:  f.cfg.Slots,
		Device: f.dev,
		Source: b.Source,
		Logger: f.log,
	})
	if err != nil {
		return err
	}
	f.sched = s
	f.log.Info("filter ready", "device", f.dev.Name(), "kernel", name, "entry", b.EntryPoint(), "slots", s.Slots())
	return nil
}

func (f *Filter) builder() kernel.Builder {
	return kernel.Builder{
		File:        f.cfg.Kernel.File,
		Entry:       f.cfg.Kernel.Entry,
		Model:       f.model,
		Zoom:        f.cfg.Zoom,
		BorderCheck: f.cfg.BorderCheck,
	}
}

func (f *Filter) teardown() error {
	if f.sched == nil {
		return nil
	}
	err := f.sched.Close()
	f.sched = nil
	return err
}

func (f *Filter) openDevice() (pipeline.Device, error) {
	if f.opts.provider != nil {
		return openProvided(f.opts.provider, f.log)
	}
	switch f.cfg.Device.Backend {
	case BackendHost:
		return f.openHost(), nil
	case BackendGPU:
		return openGPU(f.log)
	default:
		dev, err := openGPU(f.log)
		if err == nil {
			return dev, nil
		}
		f.log.Warn("GPU unavailable, using host backend", "err", err)
		return f.openHost(), nil
	}
}

func (f *Filter) openHost() pipeline.Device {
	var opts []host.Option
	if f.cfg.Device.Workers > 0 {
		opts = append(opts, host.WithWorkers(f.cfg.Device.Workers))
	}
	return host.New(append(opts, host.WithLogger(f.log))...)
}

// watch (re)starts the kernel file watcher. Must be called with f.mu held.
func (f *Filter) watch() {
	if f.watcher != nil {
		_ = f.watcher.Close()
		f.watcher = nil
	}
	if f.cfg.Kernel.File == "" {
		return
	}
	w, err := kernel.Watch(f.cfg.Kernel.File, f.log, func() { f.stale.Store(true) })
	if err != nil {
		f.log.Warn("kernel watch failed", "file", f.cfg.Kernel.File, "err", err)
		return
	}
	f.watcher = w
}
