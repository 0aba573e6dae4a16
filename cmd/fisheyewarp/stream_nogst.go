//go:build nogst

package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/muesli/termenv"

	"github.com/gogpu/fisheye"
	"github.com/gogpu/fisheye/frame"
)

func runStream(context.Context, options, frame.Format, *fisheye.Filter, *slog.Logger, *termenv.Output) error {
	return errors.New("video mode needs a build without the nogst tag")
}
