// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogst

package gstwarp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/gogpu/fisheye"
	"github.com/gogpu/fisheye/frame"
)

const (
	sinkName = "fisheye_sink"
	srcName  = "fisheye_src"
)

// ErrPipeline is returned when a GStreamer pipeline cannot be built or
// started, typically because a plugin is missing.
var ErrPipeline = errors.New("gstwarp: pipeline")

// Processor warps one frame. *fisheye.Filter implements it.
type Processor interface {
	ProcessFrame(ctx context.Context, in, out *frame.Frame) error
}

// Config describes both ends of the warp.
type Config struct {
	// Source is a gst-launch description producing raw video, for example
	// "videotestsrc num-buffers=100".
	Source string

	// Sink is a gst-launch description consuming raw video, for example
	// "autovideosink".
	Sink string

	Format        frame.Format
	Width, Height int

	// FPS constrains the frame rate. Zero accepts the source rate.
	FPS int

	Logger *slog.Logger
}

// Stats counts the frames of one Run.
type Stats struct {
	Frames  uint64
	Failed  uint64
	Dropped uint64
}

// Run warps every frame of cfg.Source into cfg.Sink until the source ends,
// either pipeline reports an error, or ctx is done.
func Run(ctx context.Context, cfg Config, p Processor) (Stats, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	desc, err := Descriptor(cfg.Format, cfg.Width, cfg.Height)
	if err != nil {
		return Stats{}, err
	}
	caps := Caps(desc, cfg.FPS)

	gst.Init(nil)

	input, err := gst.NewPipelineFromString(fmt.Sprintf(
		"%s ! videoconvert ! videoscale ! %s ! appsink name=%s sync=false", cfg.Source, caps, sinkName))
	if err != nil {
		return Stats{}, fmt.Errorf("%w: input: %w", ErrPipeline, err)
	}
	defer input.SetState(gst.StateNull)

	output, err := gst.NewPipelineFromString(fmt.Sprintf(
		"appsrc name=%s is-live=true do-timestamp=true format=time ! videoconvert ! %s", srcName, cfg.Sink))
	if err != nil {
		return Stats{}, fmt.Errorf("%w: output: %w", ErrPipeline, err)
	}
	defer output.SetState(gst.StateNull)

	sinkElem, err := input.GetElementByName(sinkName)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: appsink: %w", ErrPipeline, err)
	}
	srcElem, err := output.GetElementByName(srcName)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: appsrc: %w", ErrPipeline, err)
	}
	sink := app.SinkFromElement(sinkElem)
	src := app.SrcFromElement(srcElem)
	src.SetCaps(gst.NewCapsFromString(caps))

	w := &warper{ctx: ctx, desc: desc, p: p, src: src, log: log}
	sink.SetCallbacks(&app.SinkCallbacks{NewSampleFunc: w.onSample})

	if err := output.SetState(gst.StatePlaying); err != nil {
		return w.snapshot(), fmt.Errorf("%w: start output: %w", ErrPipeline, err)
	}
	if err := input.SetState(gst.StatePlaying); err != nil {
		return w.snapshot(), fmt.Errorf("%w: start input: %w", ErrPipeline, err)
	}
	log.Info("gst pipeline playing", "geometry", desc.String(), "source", cfg.Source, "sink", cfg.Sink)

	err = w.loop(input.GetPipelineBus(), output.GetPipelineBus())
	st := w.snapshot()
	log.Info("gst pipeline stopped", "frames", st.Frames, "failed", st.Failed, "dropped", st.Dropped)
	return st, err
}

type warper struct {
	ctx  context.Context
	desc frame.Descriptor
	p    Processor
	src  *app.Source
	log  *slog.Logger

	seq     atomic.Uint64
	frames  atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

func (w *warper) snapshot() Stats {
	return Stats{Frames: w.frames.Load(), Failed: w.failed.Load(), Dropped: w.dropped.Load()}
}

// loop pumps both buses. When the input ends the output is sent
// end-of-stream, and loop returns once the output has drained.
func (w *warper) loop(in, out *gst.Bus) error {
	inputDone := false
	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		default:
		}

		if !inputDone {
			if msg := in.TimedPop(25 * time.Millisecond); msg != nil {
				switch msg.Type() {
				case gst.MessageEOS:
					w.log.Debug("input end of stream")
					w.src.EndStream()
					inputDone = true
				case gst.MessageError:
					gerr := msg.ParseError()
					w.log.Error("input pipeline error", "err", gerr.Error(), "debug", gerr.DebugString())
					return fmt.Errorf("gstwarp: input: %w", gerr)
				}
			}
		}

		if msg := out.TimedPop(25 * time.Millisecond); msg != nil {
			switch msg.Type() {
			case gst.MessageEOS:
				return nil
			case gst.MessageError:
				gerr := msg.ParseError()
				w.log.Error("output pipeline error", "err", gerr.Error(), "debug", gerr.DebugString())
				return fmt.Errorf("gstwarp: output: %w", gerr)
			}
		}
	}
}

// onSample runs on the appsink streaming thread.
func (w *warper) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		w.dropped.Add(1)
		w.log.Warn("gstwarp: sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) < w.desc.Size() {
		buffer.Unmap()
		w.dropped.Add(1)
		w.log.Warn("gstwarp: short buffer, skipping frame", "have", len(data), "need", w.desc.Size())
		return gst.FlowOK
	}
	in := &frame.Frame{
		Descriptor: w.desc,
		Data:       make([]byte, w.desc.Size()),
		Seq:        w.seq.Add(1),
		TraceID:    uuid.New().String(),
	}
	copy(in.Data, data)
	buffer.Unmap()

	out := frame.New(w.desc)
	if err := w.p.ProcessFrame(w.ctx, in, out); err != nil {
		if w.ctx.Err() != nil {
			return gst.FlowEOS
		}
		w.failed.Add(1)
		w.log.Warn("gstwarp: frame failed, passing input through", "seq", in.Seq, "trace_id", in.TraceID, "err", err)
		if !errors.Is(err, fisheye.ErrExecution) {
			out = in
		}
	}

	if ret := w.src.PushBuffer(gst.NewBufferFromBytes(out.Data)); ret != gst.FlowOK {
		w.log.Debug("gstwarp: push stopped", "ret", ret)
		return ret
	}
	w.frames.Add(1)
	return gst.FlowOK
}
