// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/fisheye/frame"
)

// fakeDevice is a scripted Device. In auto mode every command completes as
// soon as it is enqueued. In manual mode the test completes commands with
// fire, which checks that the command's dependencies completed first.
type fakeDevice struct {
	mu     sync.Mutex
	manual bool

	events []string
	tokens []*fakeToken

	liveBuffers  int
	livePrograms int
	released     int

	buildErr    error
	allocErrAt  int // fail the n-th Allocate call, 1-based
	allocs      int
	dispatchErr map[int]error // by dispatch call, 0-based
	dispatches  int
	asyncErr    map[int]error // completion error by dispatch call
	depErrors   []string
}

type fakeBuffer struct {
	dev  *fakeDevice
	data []byte
}

func (b *fakeBuffer) Size() int { return len(b.data) }

func (b *fakeBuffer) Release() {
	b.dev.mu.Lock()
	b.dev.liveBuffers--
	b.dev.mu.Unlock()
}

type fakeProgram struct {
	dev   *fakeDevice
	entry string
}

func (p *fakeProgram) Entry() string { return p.entry }

func (p *fakeProgram) Release() {
	p.dev.mu.Lock()
	p.dev.livePrograms--
	p.dev.mu.Unlock()
}

type fakeToken struct {
	dev   *fakeDevice
	id    int
	op    string
	after []Token
	run   func()
	err   error
	done  chan struct{}
	fired bool
}

func (t *fakeToken) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *fakeToken) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *fakeToken) Release() {
	t.dev.mu.Lock()
	t.dev.released++
	t.dev.mu.Unlock()
}

func newFakeDevice(manual bool) *fakeDevice {
	return &fakeDevice{manual: manual}
}

func (d *fakeDevice) Name() string { return "fake" }

func (d *fakeDevice) Build(src Source, _ frame.Descriptor) (Program, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buildErr != nil {
		return nil, d.buildErr
	}
	d.livePrograms++
	return &fakeProgram{dev: d, entry: src.Entry}, nil
}

func (d *fakeDevice) Allocate(_ string, size int) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allocs++
	if d.allocErrAt != 0 && d.allocs == d.allocErrAt {
		return nil, errors.New("out of memory")
	}
	d.liveBuffers++
	return &fakeBuffer{dev: d, data: make([]byte, size)}, nil
}

// enqueue must be called with d.mu held.
func (d *fakeDevice) enqueue(op string, run func(), err error, after []Token) *fakeToken {
	t := &fakeToken{dev: d, id: len(d.tokens), op: op, after: after, run: run, err: err, done: make(chan struct{})}
	d.tokens = append(d.tokens, t)
	d.events = append(d.events, fmt.Sprintf("%s:%d", op, t.id))
	if !d.manual {
		d.fireLocked(t)
	}
	return t
}

func (d *fakeDevice) fireLocked(t *fakeToken) {
	if t.fired {
		return
	}
	for _, dep := range t.after {
		if !dep.Done() {
			d.depErrors = append(d.depErrors, fmt.Sprintf("%s:%d ran before its dependency", t.op, t.id))
		}
	}
	t.fired = true
	if t.err == nil && t.run != nil {
		t.run()
	}
	d.events = append(d.events, fmt.Sprintf("fire:%d", t.id))
	close(t.done)
}

func (d *fakeDevice) fire(ids ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.fireLocked(d.tokens[id])
	}
}

func (d *fakeDevice) Upload(dst Buffer, src []byte, after ...Token) (Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data := append([]byte(nil), src...)
	buf := dst.(*fakeBuffer)
	return d.enqueue("upload", func() { copy(buf.data, data) }, nil, after), nil
}

// Dispatch inverts every byte of the frame and writes 0.5 weights.
func (d *fakeDevice) Dispatch(_ Program, args KernelArgs, after ...Token) (Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.dispatches
	d.dispatches++
	if err := d.dispatchErr[n]; err != nil {
		return nil, err
	}
	src, dst := args.Src.(*fakeBuffer), args.Dst.(*fakeBuffer)
	wout := args.WeightsOut.(*fakeBuffer)
	var win []float32
	if args.Weights != nil {
		win = BytesFloat(args.Weights.(*fakeBuffer).data)
	}
	run := func() {
		for i := range dst.data {
			dst.data[i] = 255 - src.data[i]
		}
		w := BytesFloat(wout.data)
		for i := range w {
			w[i] = 0.5
			if win != nil {
				w[i] *= win[i]
			}
		}
	}
	return d.enqueue("dispatch", run, d.asyncErr[n], after), nil
}

func (d *fakeDevice) Download(dst []byte, src Buffer, after ...Token) (Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := src.(*fakeBuffer)
	return d.enqueue("download", func() { copy(dst, buf.data) }, nil, after), nil
}

func (d *fakeDevice) Close() error { return nil }

func (d *fakeDevice) indexOf(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.events {
		if e == event {
			return i
		}
	}
	return -1
}

func (d *fakeDevice) count(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.tokens {
		if t.op == op {
			n++
		}
	}
	return n
}

func testSource(desc frame.Descriptor) (Source, error) {
	return Source{Name: "test", Entry: "warp", Code: desc.String()}, nil
}
