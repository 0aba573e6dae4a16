// Package fisheye warps video frames from a calibrated wide-angle camera
// into an undistorted pinhole view on a GPU.
//
// # Overview
//
// A [Filter] takes frames in Gray8, NV12 or UYVY layout, resamples every
// output pixel from the source image through a Double Sphere or Extended
// Unified camera model, and writes the result together with a per-pixel
// weight plane. Frames are pipelined across a ring of device slots so that
// upload, kernel execution and readback of successive frames overlap.
//
// # Quick Start
//
//	import "github.com/gogpu/fisheye"
//
//	cfg, err := fisheye.LoadConfig("camera.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	f, err := fisheye.New(cfg, fisheye.WithLogger(slog.Default()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer f.Close()
//
//	out := frame.New(in.Descriptor)
//	err = f.ProcessFrame(ctx, in, out)
//
// # Bypass
//
// A filter never fails because of its device. When no device is available,
// when the kernel does not build, or when device memory cannot be
// allocated, the error is logged once, [Filter.InitError] reports it, and
// every frame is copied through unchanged. Changing the kernel file, the
// entry point or the frame geometry triggers a new attempt.
//
// # Backends
//
// The GPU backend runs the WGSL kernel through gogpu/wgpu on Vulkan. The
// host backend runs the same warp in Go on a worker pool and is selected
// when no GPU is present (backend "auto") or explicitly (backend "host").
// Build with -tags nogpu to leave the GPU backend out entirely.
//
// # Architecture
//
// The library is organized into:
//   - Public API: Filter, Config, Option
//   - camera: Double Sphere and Extended Unified models, pinhole target view
//   - resample: weighted bilinear sampler for luma and interleaved chroma
//   - frame: pixel formats, frame descriptors and buffers
//   - Internal: pipeline (slot scheduler), kernel (WGSL source), gpu and
//     host (devices), parallel (worker pool)
package fisheye

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
