// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
)

// State is the phase of a slot's current frame.
//
// A slot cycles Idle -> Uploading -> Computing -> Downloading -> Idle. The
// state records the last command enqueued; the device may still be running
// an earlier one.
type State uint8

const (
	Idle State = iota
	Uploading
	Computing
	Downloading
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Uploading:
		return "uploading"
	case Computing:
		return "computing"
	case Downloading:
		return "downloading"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Slot is one entry of the scheduler's ring. It owns four device buffers and
// the tokens of the frame in flight on it.
type Slot struct {
	index int
	state atomic.Uint32 // State

	src, dst   Buffer
	wIn, wOut  Buffer
	upload     Token
	compute    Token
	download   Token
	extra      []Token // additional tokens of the frame, released on retire
	pending    *Pending
	frameIndex uint64
}

// Index returns the slot position in the ring.
func (s *Slot) Index() int { return s.index }

// State returns the slot state.
func (s *Slot) State() State { return State(s.state.Load()) }

func (s *Slot) set(st State) { s.state.Store(uint32(st)) }

func (s *Slot) allocate(dev Device, size, weights int) error {
	bufs := []struct {
		dst   *Buffer
		label string
		size  int
	}{
		{&s.src, "src", size},
		{&s.dst, "dst", size},
		{&s.wIn, "weights", weights},
		{&s.wOut, "weights-out", weights},
	}
	for _, b := range bufs {
		buf, err := dev.Allocate(fmt.Sprintf("slot%d-%s", s.index, b.label), b.size)
		if err != nil {
			return allocError(fmt.Sprintf("slot %d %s buffer", s.index, b.label), err)
		}
		*b.dst = buf
	}
	return nil
}

func (s *Slot) releaseBuffers() {
	for _, b := range []*Buffer{&s.src, &s.dst, &s.wIn, &s.wOut} {
		if *b != nil {
			(*b).Release()
			*b = nil
		}
	}
}

// track records tok as an extra token of the current frame.
func (s *Slot) track(tok Token) Token {
	s.extra = append(s.extra, tok)
	return tok
}

// retire waits for every outstanding command of the slot's frame, releases
// the tokens and returns the slot to Idle. A device failure is reported
// through the frame's Pending, not returned. The returned error is non-nil
// only when ctx ends first; the slot then keeps its tokens.
func (s *Slot) retire(ctx context.Context) (frameErr error, err error) {
	stages := []struct {
		tok   Token
		stage Stage
	}{
		{s.upload, StageUpload},
		{s.compute, StageCompute},
		{s.download, StageDownload},
	}
	for _, st := range stages {
		if st.tok == nil || frameErr != nil {
			continue
		}
		if werr := st.tok.Wait(ctx); werr != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			frameErr = &ExecutionError{Stage: st.stage, Slot: s.index, Frame: s.frameIndex, Err: werr}
		}
	}
	for _, tok := range s.extra {
		if frameErr == nil {
			if werr := tok.Wait(ctx); werr != nil {
				if cerr := ctx.Err(); cerr != nil {
					return nil, cerr
				}
				frameErr = &ExecutionError{Stage: StageDownload, Slot: s.index, Frame: s.frameIndex, Err: werr}
			}
		}
	}
	s.releaseTokens()
	if s.pending != nil {
		s.pending.finish(frameErr)
		s.pending = nil
	}
	s.set(Idle)
	return frameErr, nil
}

func (s *Slot) releaseTokens() {
	for _, t := range []*Token{&s.upload, &s.compute, &s.download} {
		if *t != nil {
			(*t).Release()
			*t = nil
		}
	}
	for _, t := range s.extra {
		t.Release()
	}
	s.extra = s.extra[:0]
}

// busy reports whether the slot holds tokens of an unretired frame.
func (s *Slot) busy() bool {
	return s.upload != nil || s.compute != nil || s.download != nil || len(s.extra) > 0
}
