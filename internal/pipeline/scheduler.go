// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/fisheye/frame"
)

// DefaultSlots is the ring size used when Config.Slots is zero. Two slots
// overlap the upload of one frame with the readback of the previous one.
const DefaultSlots = 2

// Config configures a Scheduler.
type Config struct {
	// Slots is the number of frames that may be in flight. One gives a
	// synchronous pipeline.
	Slots int

	Device Device

	// Source returns the kernel source for a frame geometry. It is called
	// on the first frame and on every geometry change.
	Source func(frame.Descriptor) (Source, error)

	// Logger receives lifecycle and per-frame debug records. Nil is silent.
	Logger *slog.Logger
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Submitted     uint64
	Completed     uint64
	Failed        uint64
	Reallocations uint64
	Geometry      frame.Descriptor
	Slots         []State
}

// Scheduler runs frames through a ring of slots on one device.
//
// Frame k uses slot k mod N. Submitting frame k waits only for frame k-N
// to finish its download; uploads, kernels and downloads of frames on
// different slots overlap freely. A change of frame geometry drains every
// slot, releases all buffers and the program, and rebuilds them.
//
// Submit, Process, Drain, Close and Pending.Wait are serialized by an
// internal lock and are meant to be driven by a single control goroutine.
// Stats does not take that lock and never waits on the device.
type Scheduler struct {
	mu  sync.Mutex
	cfg Config
	log *slog.Logger

	slots  []*Slot
	prog   Program
	desc   frame.Descriptor
	ready  bool
	closed bool

	next uint64

	statMu sync.Mutex
	stats  Stats
}

// New returns a scheduler. No device resources are created until the
// first frame arrives.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("pipeline: %w: nil device", ErrDeviceUnavailable)
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("pipeline: nil kernel source")
	}
	if cfg.Slots < 0 {
		return nil, fmt.Errorf("pipeline: invalid slot count %d", cfg.Slots)
	}
	if cfg.Slots == 0 {
		cfg.Slots = DefaultSlots
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Scheduler{cfg: cfg, log: log.With("device", cfg.Device.Name())}
	s.slots = make([]*Slot, cfg.Slots)
	for i := range s.slots {
		s.slots[i] = &Slot{index: i}
	}
	return s, nil
}

// Slots returns the ring size.
func (s *Scheduler) Slots() int { return len(s.slots) }

// Pending is a submitted frame.
type Pending struct {
	s     *Scheduler
	slot  *Slot
	Frame uint64

	done bool
	err  error
}

func (p *Pending) finish(err error) {
	p.done = true
	p.err = err
}

// Wait blocks until the frame's download has completed and returns its
// execution error, if any. The output frame may be read after Wait returns
// nil. Wait may be called more than once.
//
// Wait holds the scheduler's control lock while it blocks, so a concurrent
// Submit or Drain runs after it. Stats is not blocked.
func (p *Pending) Wait(ctx context.Context) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if p.done {
		return p.err
	}
	if _, err := p.s.retire(ctx, p.slot); err != nil {
		return err
	}
	return p.err
}

// Submit enqueues one frame and returns without waiting for it. in and out
// must share a descriptor. Neither frame may be modified, and out must not
// be read, until the returned Pending has completed.
func (s *Scheduler) Submit(ctx context.Context, in, out *frame.Frame) (*Pending, error) {
	if err := frame.CheckPair(in, out); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	if !s.ready || in.Descriptor != s.desc {
		if err := s.reconfigure(ctx, in.Descriptor); err != nil {
			return nil, err
		}
	}

	idx := s.next
	slot := s.slots[idx%uint64(len(s.slots))]
	if _, err := s.retire(ctx, slot); err != nil {
		return nil, err
	}
	s.next++
	s.count(func(st *Stats) { st.Submitted++ })

	p := &Pending{s: s, slot: slot, Frame: idx}
	slot.pending = p
	slot.frameIndex = idx
	if err := s.enqueue(slot, in, out); err != nil {
		s.abort(ctx, slot, p, err)
		return nil, err
	}
	return p, nil
}

// Process submits one frame and waits for it.
func (s *Scheduler) Process(ctx context.Context, in, out *frame.Frame) error {
	p, err := s.Submit(ctx, in, out)
	if err != nil {
		return err
	}
	return p.Wait(ctx)
}

func (s *Scheduler) enqueue(slot *Slot, in, out *frame.Frame) error {
	size := in.Size()
	fail := func(stage Stage, err error) error {
		return &ExecutionError{Stage: stage, Slot: slot.index, Frame: slot.frameIndex, Err: err}
	}

	tok, err := s.cfg.Device.Upload(slot.src, in.Data[:size])
	if err != nil {
		return fail(StageUpload, err)
	}
	slot.upload = tok
	slot.set(Uploading)

	args := KernelArgs{
		Src:        slot.src,
		Dst:        slot.dst,
		WeightsOut: slot.wOut,
		Width:      in.Width,
		Height:     in.Height,
		Stride:     in.RowStride(),
		Format:     in.Format,
	}
	if in.Weights != nil {
		wtok, err := s.cfg.Device.Upload(slot.wIn, FloatBytes(in.Weights), slot.upload)
		if err != nil {
			return fail(StageUpload, err)
		}
		slot.track(slot.upload)
		slot.upload = wtok
		args.Weights = slot.wIn
	}

	tok, err = s.cfg.Device.Dispatch(s.prog, args, slot.upload)
	if err != nil {
		return fail(StageCompute, err)
	}
	slot.compute = tok
	slot.set(Computing)

	tok, err = s.cfg.Device.Download(out.Data[:size], slot.dst, slot.compute)
	if err != nil {
		return fail(StageDownload, err)
	}
	slot.download = tok
	if out.Weights != nil {
		wtok, err := s.cfg.Device.Download(FloatBytes(out.Weights), slot.wOut, slot.download)
		if err != nil {
			return fail(StageDownload, err)
		}
		slot.track(wtok)
	}
	slot.set(Downloading)

	s.log.Debug("frame enqueued", "frame", slot.frameIndex, "slot", slot.index)
	return nil
}

// abort waits for the commands of a partially enqueued frame and returns
// the slot to Idle. The device and the remaining slots are untouched.
func (s *Scheduler) abort(ctx context.Context, slot *Slot, p *Pending, err error) {
	slot.pending = nil
	_, _ = slot.retire(context.WithoutCancel(ctx))
	p.finish(err)
	s.count(func(st *Stats) { st.Failed++ })
	s.log.Warn("frame aborted", "frame", p.Frame, "slot", slot.index, "err", err)
}

// retire finishes the slot's outstanding frame and updates counters.
func (s *Scheduler) retire(ctx context.Context, slot *Slot) (frameErr error, err error) {
	if !slot.busy() {
		return nil, nil
	}
	frameErr, err = slot.retire(ctx)
	if err != nil {
		return nil, err
	}
	if frameErr != nil {
		s.count(func(st *Stats) { st.Failed++ })
		s.log.Warn("frame failed", "slot", slot.index, "err", frameErr)
	} else {
		s.count(func(st *Stats) { st.Completed++ })
	}
	return frameErr, nil
}

// drain retires every slot.
func (s *Scheduler) drain(ctx context.Context) error {
	for _, slot := range s.slots {
		if _, err := s.retire(ctx, slot); err != nil {
			return err
		}
	}
	return nil
}

// Drain waits until every slot is idle.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drain(ctx)
}

// reconfigure is the pool-wide barrier: drain, release, rebuild for desc.
func (s *Scheduler) reconfigure(ctx context.Context, desc frame.Descriptor) error {
	if err := s.drain(ctx); err != nil {
		return err
	}
	if s.ready {
		s.count(func(st *Stats) { st.Reallocations++ })
		s.log.Info("frame geometry changed, reallocating", "from", s.desc.String(), "to", desc.String())
	}
	s.release()

	src, err := s.cfg.Source(desc)
	if err != nil {
		return err
	}
	prog, err := s.cfg.Device.Build(src, desc)
	if err != nil {
		if !errors.Is(err, ErrProgramBuild) && !errors.Is(err, ErrResourceAllocation) &&
			!errors.Is(err, ErrUnsupportedGeometry) {
			err = &BuildError{Entry: src.Entry, Err: err}
		}
		return err
	}
	s.prog = prog

	size := align4(desc.Size())
	weights := desc.Pixels() * 4
	for _, slot := range s.slots {
		if err := slot.allocate(s.cfg.Device, size, weights); err != nil {
			s.release()
			return err
		}
	}
	s.desc = desc
	s.count(func(st *Stats) { st.Geometry = desc })
	s.ready = true
	s.log.Info("pipeline ready", "geometry", desc.String(), "slots", len(s.slots), "entry", prog.Entry())
	return nil
}

// release frees the program and every slot buffer. Slots must be idle.
func (s *Scheduler) release() {
	for _, slot := range s.slots {
		slot.releaseBuffers()
	}
	if s.prog != nil {
		s.prog.Release()
		s.prog = nil
	}
	s.ready = false
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.statMu.Lock()
	st := s.stats
	s.statMu.Unlock()
	st.Slots = make([]State, len(s.slots))
	for i, slot := range s.slots {
		st.Slots[i] = slot.State()
	}
	return st
}

func (s *Scheduler) count(update func(*Stats)) {
	s.statMu.Lock()
	update(&s.stats)
	s.statMu.Unlock()
}

// Close drains the ring and releases every device resource held by the
// scheduler. The device itself is not closed. Close is idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.drain(context.Background())
	s.release()
	return err
}

func align4(n int) int {
	return (n + 3) &^ 3
}
