//go:build !nogst

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/muesli/termenv"

	"github.com/gogpu/fisheye"
	"github.com/gogpu/fisheye/frame"
	"github.com/gogpu/fisheye/integration/gstwarp"
)

func runStream(ctx context.Context, o options, format frame.Format, f *fisheye.Filter, logger *slog.Logger, out *termenv.Output) error {
	if o.width == 0 || o.height == 0 {
		return fmt.Errorf("video mode needs -width and -height")
	}
	st, err := gstwarp.Run(ctx, gstwarp.Config{
		Source: o.gstSrc,
		Sink:   o.gstSink,
		Format: format,
		Width:  o.width,
		Height: o.height,
		Logger: logger,
	}, f)
	fmt.Fprintf(os.Stderr, "%s %d frames, %d failed, %d dropped\n",
		out.String("stream:").Foreground(out.Color("6")).Bold(), st.Frames, st.Failed, st.Dropped)
	return err
}
