// Command fisheyewarp undistorts fisheye images or video.
//
// Still images (PNG, JPEG, GIF, BMP, TIFF) are converted to the chosen
// pixel format, warped once and written as PGM/PPM or PNG:
//
//	fisheyewarp -config cam.yaml -in frame.jpg -out frame.ppm
//
// With -gst-src the command warps a GStreamer stream instead:
//
//	fisheyewarp -config cam.yaml -gst-src "v4l2src" -gst-sink autovideosink -width 1280 -height 800
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/muesli/termenv"

	"github.com/gogpu/fisheye"
	"github.com/gogpu/fisheye/frame"
)

type options struct {
	config  string
	in, out string
	kernel  string
	entry   string
	backend string
	format  string
	width   int
	height  int
	gstSrc  string
	gstSink string
	verbose bool
}

func main() {
	var o options
	flag.StringVar(&o.config, "config", "", "camera configuration (YAML); defaults apply when empty")
	flag.StringVar(&o.in, "in", "", "input image")
	flag.StringVar(&o.out, "out", "warped.ppm", "output image (.pgm, .ppm or .png)")
	flag.StringVar(&o.kernel, "kernel", "", "WGSL kernel file overriding the configuration")
	flag.StringVar(&o.entry, "entry", "", "kernel entry point overriding the configuration")
	flag.StringVar(&o.backend, "backend", "", "device backend: auto, gpu or host")
	flag.StringVar(&o.format, "format", "nv12", "pixel format: gray8, nv12 or uyvy")
	flag.IntVar(&o.width, "width", 0, "resize the input to this width (video: frame width)")
	flag.IntVar(&o.height, "height", 0, "resize the input to this height (video: frame height)")
	flag.StringVar(&o.gstSrc, "gst-src", "", "GStreamer source description; enables video mode")
	flag.StringVar(&o.gstSink, "gst-sink", "autovideosink", "GStreamer sink description")
	flag.BoolVar(&o.verbose, "v", false, "debug logging")
	flag.Parse()

	out := termenv.NewOutput(os.Stderr)
	if err := run(o, out); err != nil {
		log.Fatalf("%s %v", out.String("error:").Foreground(out.Color("1")).Bold(), err)
	}
}

func run(o options, out *termenv.Output) error {
	cfg := fisheye.DefaultConfig()
	if o.config != "" {
		var err error
		if cfg, err = fisheye.LoadConfig(o.config); err != nil {
			return err
		}
	}
	if o.kernel != "" {
		cfg.Kernel.File = o.kernel
	}
	if o.entry != "" {
		cfg.Kernel.Entry = o.entry
	}
	if o.backend != "" {
		cfg.Device.Backend = fisheye.Backend(o.backend)
	}
	format, err := frame.ParseFormat(o.format)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	f, err := fisheye.New(cfg, fisheye.WithLogger(logger))
	if err != nil {
		return err
	}
	defer f.Close()
	if !f.Ready() {
		fmt.Fprintf(os.Stderr, "%s frames pass through unchanged: %v\n",
			out.String("bypass:").Foreground(out.Color("3")).Bold(), f.InitError())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if o.gstSrc != "" {
		return runStream(ctx, o, format, f, logger, out)
	}
	return runImage(ctx, o, format, f, out)
}

func runImage(ctx context.Context, o options, format frame.Format, f *fisheye.Filter, out *termenv.Output) error {
	if o.in == "" {
		return fmt.Errorf("-in is required without -gst-src")
	}
	img, kind, err := readImage(o.in)
	if err != nil {
		return err
	}
	img = resize(img, o.width, o.height)

	in, err := toFrame(img, format)
	if err != nil {
		return err
	}
	warped := frame.New(in.Descriptor).WithWeights()

	start := time.Now()
	if err := f.ProcessFrame(ctx, in, warped); err != nil {
		return err
	}
	elapsed := time.Since(start)

	if err := writeImage(o.out, warped); err != nil {
		return err
	}
	st := f.Stats()
	mode := out.String("warped").Foreground(out.Color("2")).Bold()
	if st.Bypassed > 0 {
		mode = out.String("copied").Foreground(out.Color("3")).Bold()
	}
	fmt.Fprintf(os.Stderr, "%s %s (%s) -> %s  %v on %s in %v\n",
		mode, o.in, kind, o.out, in.Descriptor, st.Device, elapsed.Round(time.Microsecond))
	return nil
}
