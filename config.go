// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fisheye

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/chewxy/math32"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/fisheye/camera"
)

// Backend selects the device a Filter runs on.
type Backend string

const (
	// BackendAuto tries the GPU and falls back to the host.
	BackendAuto Backend = "auto"
	BackendGPU  Backend = "gpu"
	BackendHost Backend = "host"
)

// Config is the complete filter configuration. The zero value is not
// valid; start from DefaultConfig or LoadConfig.
type Config struct {
	Camera CameraConfig `yaml:"camera"`

	// Zoom scales the focal length of the undistorted view. Values above
	// one narrow the field of view. Zero means one.
	Zoom float32 `yaml:"zoom"`

	// BorderCheck marks samples outside the source image as invisible
	// instead of clamping them to the edge.
	BorderCheck bool `yaml:"border_check"`

	// Slots is the number of frames in flight. One makes the filter
	// synchronous.
	Slots int `yaml:"slots"`

	Kernel KernelConfig `yaml:"kernel"`
	Device DeviceConfig `yaml:"device"`
}

// CameraConfig is the calibration of the source camera.
type CameraConfig struct {
	// Model is "double_sphere" (alias "ds") or "extended_unified"
	// (alias "eucm").
	Model string `yaml:"model"`

	Xi    float32 `yaml:"xi"`
	Alpha float32 `yaml:"alpha"`
	Beta  float32 `yaml:"beta"`

	Fx float32 `yaml:"fx"`
	Fy float32 `yaml:"fy"`
	Cx float32 `yaml:"cx"`
	Cy float32 `yaml:"cy"`

	// Width and Height are the calibration resolution. Frames of another
	// size use rescaled intrinsics.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// KernelConfig names the device kernel.
type KernelConfig struct {
	// File is a WGSL source file. Empty selects the built-in kernel.
	File string `yaml:"file"`

	// Entry is the compute entry point. Empty selects "warp".
	Entry string `yaml:"entry"`

	// Watch re-initializes the filter when File is written.
	Watch bool `yaml:"watch"`
}

// DeviceConfig selects and sizes the device.
type DeviceConfig struct {
	Backend Backend `yaml:"backend"`

	// Workers bounds the host backend's goroutines. Zero uses GOMAXPROCS.
	Workers int `yaml:"workers"`
}

// DefaultConfig returns a double sphere camera at 1280x800 on the
// automatically selected backend.
func DefaultConfig() Config {
	return Config{
		Camera: CameraConfig{
			Model:  "double_sphere",
			Xi:     -0.18,
			Alpha:  0.59,
			Fx:     350,
			Fy:     350,
			Cx:     639.5,
			Cy:     399.5,
			Width:  1280,
			Height: 800,
		},
		Zoom:   1,
		Slots:  2,
		Device: DeviceConfig{Backend: BackendAuto},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Unknown keys are
// rejected.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("fisheye: read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var entryName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks every field and builds the camera model.
func (c Config) Validate() error {
	if _, err := c.Model(); err != nil {
		return err
	}
	if math32.IsNaN(c.Zoom) || math32.IsInf(c.Zoom, 0) || c.Zoom < 0 {
		return fmt.Errorf("%w: zoom %v", ErrInvalidConfig, c.Zoom)
	}
	if c.Slots < 0 {
		return fmt.Errorf("%w: slots %d", ErrInvalidConfig, c.Slots)
	}
	if c.Kernel.Entry != "" && !entryName.MatchString(c.Kernel.Entry) {
		return fmt.Errorf("%w: entry point %q is not an identifier", ErrInvalidConfig, c.Kernel.Entry)
	}
	if c.Kernel.Watch && c.Kernel.File == "" {
		return fmt.Errorf("%w: kernel.watch needs kernel.file", ErrInvalidConfig)
	}
	switch c.Device.Backend {
	case "", BackendAuto, BackendGPU, BackendHost:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Device.Backend)
	}
	if c.Device.Workers < 0 {
		return fmt.Errorf("%w: workers %d", ErrInvalidConfig, c.Device.Workers)
	}
	return nil
}

// Model builds the camera model described by c.Camera.
func (c Config) Model() (camera.Model, error) {
	cc := c.Camera
	var d camera.Distortion
	switch strings.ToLower(cc.Model) {
	case "double_sphere", "ds":
		d = camera.DoubleSphere{Xi: cc.Xi, Alpha: cc.Alpha}
	case "extended_unified", "eucm":
		d = camera.ExtendedUnified{Alpha: cc.Alpha, Beta: cc.Beta}
	default:
		return camera.Model{}, fmt.Errorf("%w: unknown camera model %q", ErrInvalidConfig, cc.Model)
	}
	m, err := camera.NewModel(d, camera.Intrinsics{
		Focal:  camera.V2(cc.Fx, cc.Fy),
		Center: camera.V2(cc.Cx, cc.Cy),
	}, cc.Width, cc.Height)
	if err != nil {
		return camera.Model{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return m, nil
}
