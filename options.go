package fisheye

import (
	"log/slog"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/fisheye/internal/pipeline"
)

// Option configures a Filter during creation.
// Use functional options to customize Filter behavior.
//
// Example:
//
//	// Host backend with logging
//	cfg := fisheye.DefaultConfig()
//	cfg.Device.Backend = fisheye.BackendHost
//	f, err := fisheye.New(cfg, fisheye.WithLogger(slog.Default()))
type Option func(*options)

// options holds optional configuration for Filter creation.
type options struct {
	logger   *slog.Logger
	provider gpucontext.DeviceProvider
	device   pipeline.Device
}

// WithLogger sets the logger for the filter and everything it creates.
// By default, fisheye produces no log output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithDeviceProvider shares the GPU device of a host application instead
// of opening one. The provider must also expose HalDevice() and
// HalQueue(), as gogpu applications do; otherwise initialization fails
// and the filter passes frames through.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// withDevice injects a ready device. The filter does not close it.
func withDevice(d pipeline.Device) Option {
	return func(o *options) {
		o.device = d
	}
}
