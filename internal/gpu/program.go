//go:build !nogpu

package gpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fisheye/frame"
	"github.com/gogpu/fisheye/internal/pipeline"
)

// paramsSize is the size of the kernel's Params uniform: eight u32.
const paramsSize = 32

// program is the compute pipeline for one frame geometry, plus the bind
// groups of every buffer set it has been dispatched with.
type program struct {
	dev   *Device
	desc  frame.Descriptor
	entry string

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline

	// noWeights is bound when a frame carries no input weight plane.
	noWeights hal.Buffer
	bindings  map[bindingKey]*binding
}

type bindingKey struct {
	src, dst, weights, weightsOut *buffer
}

type binding struct {
	params hal.Buffer
	group  hal.BindGroup
}

// newProgram must be called with d.mu held.
func newProgram(d *Device, src pipeline.Source, desc frame.Descriptor, spirv []uint32) (_ *program, err error) {
	p := &program{dev: d, desc: desc, entry: src.Entry, bindings: make(map[bindingKey]*binding)}
	defer func() {
		if err != nil {
			p.destroyLocked()
		}
	}()

	p.shader, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "warp",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, &pipeline.BuildError{Entry: src.Entry, Log: fmt.Sprintf("%s: create shader module: %v", src.Name, err)}
	}

	p.bindLayout, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "warp_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 3, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
			{Binding: 4, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: bind group layout: %w", pipeline.ErrResourceAllocation, err)
	}

	p.pipeLayout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "warp_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: pipeline layout: %w", pipeline.ErrResourceAllocation, err)
	}

	p.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "warp_pipeline", Layout: p.pipeLayout,
		Compute: hal.ComputeState{Module: p.shader, EntryPoint: src.Entry},
	})
	if err != nil {
		return nil, &pipeline.BuildError{Entry: src.Entry, Log: fmt.Sprintf("%s: create compute pipeline: %v", src.Name, err)}
	}

	p.noWeights, err = d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "warp_no_weights", Size: 16,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: placeholder weights: %w", pipeline.ErrResourceAllocation, err)
	}
	return p, nil
}

func (p *program) Entry() string { return p.entry }

// Release destroys the pipeline and every cached bind group.
func (p *program) Release() {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	if p.dev.closed {
		return
	}
	// Bind groups may still be referenced by the open encoder.
	_ = p.dev.flushLocked()
	p.destroyLocked()
}

func (p *program) destroyLocked() {
	dev := p.dev.device
	for k, b := range p.bindings {
		dev.DestroyBindGroup(b.group)
		dev.DestroyBuffer(b.params)
		delete(p.bindings, k)
	}
	if p.noWeights != nil {
		dev.DestroyBuffer(p.noWeights)
		p.noWeights = nil
	}
	if p.pipeline != nil {
		dev.DestroyComputePipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipeLayout != nil {
		dev.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.bindLayout != nil {
		dev.DestroyBindGroupLayout(p.bindLayout)
		p.bindLayout = nil
	}
	if p.shader != nil {
		dev.DestroyShaderModule(p.shader)
		p.shader = nil
	}
}

// bindGroup returns the cached bind group for args, creating it on first
// use. Must be called with dev.mu held.
func (p *program) bindGroup(args pipeline.KernelArgs) (hal.BindGroup, error) {
	if args.Width != p.desc.Width || args.Height != p.desc.Height ||
		args.Stride != p.desc.RowStride() || args.Format != p.desc.Format {
		return nil, fmt.Errorf("gpu: kernel args %dx%d/%v do not match program geometry %v",
			args.Width, args.Height, args.Format, p.desc)
	}
	if args.WeightsOut == nil {
		return nil, fmt.Errorf("gpu: kernel requires an output weight buffer")
	}

	var key bindingKey
	var err error
	if key.src, err = p.dev.own(args.Src); err != nil {
		return nil, err
	}
	if key.dst, err = p.dev.own(args.Dst); err != nil {
		return nil, err
	}
	if key.weightsOut, err = p.dev.own(args.WeightsOut); err != nil {
		return nil, err
	}
	if args.Weights != nil {
		if key.weights, err = p.dev.own(args.Weights); err != nil {
			return nil, err
		}
	}
	if b, ok := p.bindings[key]; ok {
		return b.group, nil
	}

	dev := p.dev.device
	params, err := dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "warp_params", Size: paramsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: params buffer: %w", pipeline.ErrResourceAllocation, err)
	}
	p.dev.queue.WriteBuffer(params, 0, p.params(key.weights != nil))

	weights, weightsSize := p.noWeights, uint64(16)
	if key.weights != nil {
		weights, weightsSize = key.weights.buf, key.weights.padded
	}
	group, err := dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "warp_bind", Layout: p.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: params.NativeHandle(), Offset: 0, Size: paramsSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: key.src.buf.NativeHandle(), Offset: 0, Size: key.src.padded}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: weights.NativeHandle(), Offset: 0, Size: weightsSize}},
			{Binding: 3, Resource: gputypes.BufferBinding{Buffer: key.dst.buf.NativeHandle(), Offset: 0, Size: key.dst.padded}},
			{Binding: 4, Resource: gputypes.BufferBinding{Buffer: key.weightsOut.buf.NativeHandle(), Offset: 0, Size: key.weightsOut.padded}},
		},
	})
	if err != nil {
		dev.DestroyBuffer(params)
		return nil, fmt.Errorf("%w: bind group: %w", pipeline.ErrResourceAllocation, err)
	}
	p.bindings[key] = &binding{params: params, group: group}
	return group, nil
}

// params encodes the Params uniform.
func (p *program) params(hasWeights bool) []byte {
	out := make([]byte, paramsSize)
	fields := []uint32{
		uint32(p.desc.Width),       //nolint:gosec // frame dimensions fit uint32
		uint32(p.desc.Height),      //nolint:gosec // frame dimensions fit uint32
		uint32(p.desc.RowStride()), //nolint:gosec // frame dimensions fit uint32
		uint32(p.desc.Format),
		0,
	}
	if hasWeights {
		fields[4] = 1
	}
	for i, v := range fields {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}
