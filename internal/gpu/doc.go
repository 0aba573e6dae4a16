//go:build !nogpu

// Package gpu runs the warp kernel on a GPU through the gogpu/wgpu HAL.
//
// It uses the Pure Go WebGPU implementation (zero CGO) on the Vulkan
// backend, or any HAL device shared by a host application.
//
// # Timeline
//
// Every command goes to one queue and signals one timeline fence. A token
// is a fence value:
//
//	upload(f0)   -> 1
//	dispatch(f0) -> 2, download(f0) -> 2   (one command buffer)
//	upload(f1)   -> 3
//	...
//
// Uploads are queue writes, ordered before every later submission.
// A dispatch and its downloads share one command encoder, submitted when
// the next command arrives or when one of its tokens is waited on.
// Readback into host memory happens when a download token is first seen
// complete.
//
// # Programs
//
// The kernel is compiled from WGSL to SPIR-V with gogpu/naga once per
// frame geometry. Each program caches one bind group per buffer set, so a
// ring of N slots needs N bind groups after the first N frames.
package gpu
