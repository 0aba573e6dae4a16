//go:build !nogpu

package gpu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/fisheye/frame"
	"github.com/gogpu/fisheye/internal/pipeline"
)

// createNoopDevice creates a noop device and queue for testing.
// Returns the device, queue, and a cleanup function.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	device, queue, cleanup := createNoopDevice(t)
	d, err := FromHAL(device, queue)
	if err != nil {
		cleanup()
		t.Fatalf("FromHAL: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
		cleanup()
	})
	return d
}

func TestFromHALNil(t *testing.T) {
	_, err := FromHAL(nil, nil)
	if !errors.Is(err, pipeline.ErrDeviceUnavailable) {
		t.Errorf("FromHAL(nil, nil) = %v, want ErrDeviceUnavailable", err)
	}
}

type plainProvider struct{}

type wrongProvider struct{}

func (wrongProvider) HalDevice() any { return 42 }
func (wrongProvider) HalQueue() any  { return "queue" }

func TestFromProviderRejects(t *testing.T) {
	for _, p := range []any{plainProvider{}, wrongProvider{}, nil} {
		if _, err := FromProvider(p); !errors.Is(err, pipeline.ErrDeviceUnavailable) {
			t.Errorf("FromProvider(%T) = %v, want ErrDeviceUnavailable", p, err)
		}
	}
}

type halProvider struct {
	device hal.Device
	queue  hal.Queue
}

func (p halProvider) HalDevice() any { return p.device }
func (p halProvider) HalQueue() any  { return p.queue }

func TestFromProviderShares(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	d, err := FromProvider(halProvider{device, queue})
	if err != nil {
		t.Fatalf("FromProvider: %v", err)
	}
	if !d.external {
		t.Error("provider device should not be owned")
	}
	if d.Name() != "gpu:shared" {
		t.Errorf("Name() = %q", d.Name())
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestAllocate(t *testing.T) {
	d := newTestDevice(t)

	b, err := d.Allocate("src", 10)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if b.Size() != 10 {
		t.Errorf("Size() = %d, want 10", b.Size())
	}
	if got := b.(*buffer).padded; got != 12 {
		t.Errorf("padded = %d, want 12", got)
	}
	b.Release()
	b.Release()

	if _, err := d.Allocate("empty", 0); !errors.Is(err, pipeline.ErrResourceAllocation) {
		t.Errorf("Allocate(0) = %v, want ErrResourceAllocation", err)
	}
}

func TestReleasedBufferRejected(t *testing.T) {
	d := newTestDevice(t)
	b, err := d.Allocate("src", 16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b.Release()
	if _, err := d.Upload(b, make([]byte, 16)); err == nil {
		t.Error("Upload into released buffer should fail")
	}
}

type foreignBuffer struct{}

func (foreignBuffer) Size() int { return 4 }
func (foreignBuffer) Release()  {}

func TestForeignBuffer(t *testing.T) {
	d := newTestDevice(t)
	if _, err := d.Upload(foreignBuffer{}, []byte{1, 2, 3, 4}); err == nil {
		t.Error("Upload into foreign buffer should fail")
	}
	if _, err := d.Download(make([]byte, 4), foreignBuffer{}); err == nil {
		t.Error("Download from foreign buffer should fail")
	}
}

func TestUploadTooLarge(t *testing.T) {
	d := newTestDevice(t)
	b, err := d.Allocate("src", 4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Release()
	if _, err := d.Upload(b, make([]byte, 8)); err == nil {
		t.Error("oversized upload should fail")
	}
}

func TestBuildRejectsUnalignedStride(t *testing.T) {
	d := newTestDevice(t)
	desc := frame.Descriptor{Width: 6, Height: 4, Stride: 6, Format: frame.Gray8}
	_, err := d.Build(pipeline.Source{Name: "x", Code: "fn warp() {}", Entry: "warp"}, desc)
	if !errors.Is(err, pipeline.ErrUnsupportedGeometry) {
		t.Errorf("Build = %v, want ErrUnsupportedGeometry", err)
	}
}

func TestBuildMissingEntry(t *testing.T) {
	d := newTestDevice(t)
	desc := frame.Descriptor{Width: 8, Height: 4, Stride: 8, Format: frame.Gray8}
	_, err := d.Build(pipeline.Source{Name: "x", Code: "fn main() {}", Entry: "warp"}, desc)
	if !errors.Is(err, pipeline.ErrProgramBuild) {
		t.Fatalf("Build = %v, want ErrProgramBuild", err)
	}
	var be *pipeline.BuildError
	if !errors.As(err, &be) || be.Entry != "warp" {
		t.Errorf("Build error = %#v, want BuildError for entry warp", err)
	}
}

func TestParams(t *testing.T) {
	p := &program{desc: frame.Descriptor{Width: 8, Height: 2, Stride: 24, Format: frame.UYVY}}
	want := []byte{
		8, 0, 0, 0,
		2, 0, 0, 0,
		24, 0, 0, 0,
		byte(frame.UYVY), 0, 0, 0,
		1, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
	if got := p.params(true); !bytes.Equal(got, want) {
		t.Errorf("params(true) = %v, want %v", got, want)
	}
	if got := p.params(false); got[16] != 0 {
		t.Errorf("params(false) has_weights = %d, want 0", got[16])
	}
}

func TestPadTo4(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	if got := padTo4(b); &got[0] != &b[0] {
		t.Error("aligned slice should be returned as is")
	}
	if got := padTo4([]byte{1, 2, 3, 4, 5}); !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 0, 0, 0}) {
		t.Errorf("padTo4 = %v", got)
	}
}

func TestCloseIdempotent(t *testing.T) {
	d := newTestDevice(t)
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := d.Allocate("late", 4); err == nil {
		t.Error("Allocate after Close should fail")
	}
}
