// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernel

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gogpu/naga"

	"github.com/gogpu/fisheye/camera"
	"github.com/gogpu/fisheye/frame"
	"github.com/gogpu/fisheye/internal/pipeline"
)

// DefaultEntry is the entry point of the built-in kernel.
const DefaultEntry = "warp"

// BuiltinName is the source name reported for the embedded kernel.
const BuiltinName = "builtin:warp.wgsl"

// WorkgroupSize is the compute workgroup edge of the built-in kernel.
const WorkgroupSize = 8

//go:embed shaders/warp.wgsl
var warpWGSL string

// Builtin returns the embedded kernel source.
func Builtin() string {
	return warpWGSL
}

// Load reads the kernel source at path. An empty path selects the built-in
// kernel.
func Load(path string) (name, code string, err error) {
	if path == "" {
		return BuiltinName, warpWGSL, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return path, "", fmt.Errorf("kernel: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return path, "", fmt.Errorf("kernel: %s is empty", path)
	}
	return path, string(data), nil
}

// Prelude returns the WGSL constant declarations for a source model and
// target view.
func Prelude(m camera.Model, target camera.Pinhole, borderCheck bool) string {
	d := m.Distortion()
	p := d.Params()
	src := m.Intrinsics()
	dst := target.Intrinsics

	var b strings.Builder
	b.WriteString("// generated\n")
	fmt.Fprintf(&b, "const MODEL_KIND: u32 = %du;\n", uint32(d.Kind()))
	writeF32(&b, "MODEL_P0", p[0])
	writeF32(&b, "MODEL_P1", p[1])
	writeF32(&b, "SRC_FX", src.Focal.X)
	writeF32(&b, "SRC_FY", src.Focal.Y)
	writeF32(&b, "SRC_CX", src.Center.X)
	writeF32(&b, "SRC_CY", src.Center.Y)
	writeF32(&b, "DST_FX", dst.Focal.X)
	writeF32(&b, "DST_FY", dst.Focal.Y)
	writeF32(&b, "DST_CX", dst.Center.X)
	writeF32(&b, "DST_CY", dst.Center.Y)
	writeF32(&b, "KAPPA_EPSILON", camera.KappaEpsilon)
	border := 0
	if borderCheck {
		border = 1
	}
	fmt.Fprintf(&b, "const BORDER_CHECK: u32 = %du;\n\n", border)
	return b.String()
}

func writeF32(b *strings.Builder, name string, v float32) {
	fmt.Fprintf(b, "const %s: f32 = %s;\n", name, floatLiteral(v))
}

// floatLiteral formats v as a WGSL decimal float literal.
func floatLiteral(v float32) string {
	s := strconv.FormatFloat(float64(v), 'f', -1, 32)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Builder produces pipeline sources for a camera. Its Source method is
// called once per frame geometry.
type Builder struct {
	// File is the kernel path. Empty selects the built-in kernel.
	File string

	// Entry is the compute entry point. Empty selects DefaultEntry.
	Entry string

	Model camera.Model

	// Zoom scales the target focal length. Zero means one.
	Zoom float32

	BorderCheck bool
}

// EntryPoint returns the configured entry point name.
func (b Builder) EntryPoint() string {
	if b.Entry == "" {
		return DefaultEntry
	}
	return b.Entry
}

// Source loads the kernel and specializes it for desc.
func (b Builder) Source(desc frame.Descriptor) (pipeline.Source, error) {
	entry := b.EntryPoint()
	name, code, err := Load(b.File)
	if err != nil {
		return pipeline.Source{}, &pipeline.BuildError{Entry: entry, Err: err}
	}
	m := b.Model.Scaled(desc.Width, desc.Height)
	target := camera.PinholeFor(m, b.Zoom)
	return pipeline.Source{
		Name:        name,
		Code:        Prelude(m, target, b.BorderCheck) + code,
		Entry:       entry,
		Model:       m,
		Target:      target,
		BorderCheck: b.BorderCheck,
	}, nil
}

var errNoEntry = errors.New("entry point not found")

// HasEntryPoint reports whether code declares a compute function named
// entry.
func HasEntryPoint(code, entry string) bool {
	re := regexp.MustCompile(`@compute[^{;]*?\bfn\s+` + regexp.QuoteMeta(entry) + `\s*\(`)
	return re.MatchString(code)
}

// Validate checks that src declares its entry point.
func Validate(src pipeline.Source) error {
	if !HasEntryPoint(src.Code, src.Entry) {
		return &pipeline.BuildError{
			Entry: src.Entry,
			Log:   fmt.Sprintf("%s: no @compute function %q", src.Name, src.Entry),
			Err:   errNoEntry,
		}
	}
	return nil
}

// Compile validates src and compiles it to SPIR-V words. Failures are
// returned as *pipeline.BuildError carrying the compiler log.
func Compile(src pipeline.Source) ([]uint32, error) {
	if err := Validate(src); err != nil {
		return nil, err
	}
	spirv, err := naga.Compile(src.Code)
	if err != nil {
		return nil, &pipeline.BuildError{Entry: src.Entry, Log: fmt.Sprintf("%s: %v", src.Name, err)}
	}
	if len(spirv) == 0 || len(spirv)%4 != 0 {
		return nil, &pipeline.BuildError{
			Entry: src.Entry,
			Log:   fmt.Sprintf("%s: SPIR-V size %d is not a multiple of 4", src.Name, len(spirv)),
		}
	}
	words := make([]uint32, len(spirv)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirv[i*4:])
	}
	return words, nil
}

// Grid returns the workgroup counts covering a frame: one invocation per
// destination word.
func Grid(desc frame.Descriptor) (x, y uint32) {
	words := (desc.RowStride() + 3) / 4
	rows := desc.Height + desc.ChromaRows()
	return uint32((words + WorkgroupSize - 1) / WorkgroupSize), uint32((rows + WorkgroupSize - 1) / WorkgroupSize)
}
