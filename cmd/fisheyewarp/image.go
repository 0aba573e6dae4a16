package main

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/transform"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/gogpu/fisheye/frame"
)

// readImage sniffs and decodes an image file. The returned string is its
// MIME type.
func readImage(path string) (image.Image, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	kind, err := filetype.Match(data)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	if !filetype.IsImage(data) {
		return nil, "", fmt.Errorf("%s: not an image (detected %q)", path, kind.MIME.Value)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%s: decode %s: %w", path, kind.MIME.Value, err)
	}
	return img, kind.MIME.Value, nil
}

// resize scales img to w x h. A zero dimension keeps the aspect ratio;
// both zero returns img unchanged.
func resize(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	switch {
	case w <= 0 && h <= 0:
		return img
	case w <= 0:
		w = max(1, b.Dx()*h/b.Dy())
	case h <= 0:
		h = max(1, b.Dy()*w/b.Dx())
	}
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	return transform.Resize(img, w, h, transform.Linear)
}

// toFrame converts img to a frame in format. Chroma formats need even
// dimensions; an odd last column or row is dropped. Rows are padded to a
// multiple of 4 bytes.
func toFrame(img image.Image, format frame.Format) (*frame.Frame, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if format != frame.Gray8 {
		w &^= 1
	}
	if format == frame.NV12 {
		h &^= 1
	}
	d := frame.NewDescriptor(w, h, format)
	d.Stride = (w*format.BytesPerPixel() + 3) &^ 3
	if err := d.Validate(); err != nil {
		return nil, err
	}
	f := frame.New(d)

	at := func(x, y int) color.YCbCr {
		return color.YCbCrModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.YCbCr)
	}
	stride := d.Stride
	switch format {
	case frame.Gray8:
		for y := range h {
			for x := range w {
				f.Data[y*stride+x] = at(x, y).Y
			}
		}
	case frame.NV12:
		uv := f.Data[stride*h:]
		for y := 0; y < h; y += 2 {
			for x := 0; x < w; x += 2 {
				var cb, cr int
				for _, p := range [4][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
					c := at(x+p[0], y+p[1])
					f.Data[(y+p[1])*stride+x+p[0]] = c.Y
					cb += int(c.Cb)
					cr += int(c.Cr)
				}
				uv[(y/2)*stride+x] = uint8((cb + 2) / 4)
				uv[(y/2)*stride+x+1] = uint8((cr + 2) / 4)
			}
		}
	case frame.UYVY:
		for y := range h {
			row := f.Data[y*stride:]
			for x := 0; x < w; x += 2 {
				c0, c1 := at(x, y), at(x+1, y)
				row[2*x] = uint8((int(c0.Cb) + int(c1.Cb) + 1) / 2)
				row[2*x+1] = c0.Y
				row[2*x+2] = uint8((int(c0.Cr) + int(c1.Cr) + 1) / 2)
				row[2*x+3] = c1.Y
			}
		}
	}
	return f, nil
}

// toImage converts a frame back to an image.
func toImage(f *frame.Frame) image.Image {
	w, h, stride := f.Width, f.Height, f.RowStride()
	switch f.Format {
	case frame.NV12:
		img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
		for y := range h {
			copy(img.Y[y*img.YStride:y*img.YStride+w], f.Data[y*stride:])
		}
		uv := f.Data[stride*h:]
		for y := range f.ChromaRows() {
			for x := range w / 2 {
				img.Cb[y*img.CStride+x] = uv[y*stride+2*x]
				img.Cr[y*img.CStride+x] = uv[y*stride+2*x+1]
			}
		}
		return img
	case frame.UYVY:
		img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio422)
		for y := range h {
			row := f.Data[y*stride:]
			for x := 0; x < w; x += 2 {
				img.Y[y*img.YStride+x] = row[2*x+1]
				img.Y[y*img.YStride+x+1] = row[2*x+3]
				img.Cb[y*img.CStride+x/2] = row[2*x]
				img.Cr[y*img.CStride+x/2] = row[2*x+2]
			}
		}
		return img
	default:
		img := image.NewGray(image.Rect(0, 0, w, h))
		for y := range h {
			copy(img.Pix[y*img.Stride:y*img.Stride+w], f.Data[y*stride:])
		}
		return img
	}
}

// writeImage writes f as PNG, PGM or PPM depending on the extension.
func writeImage(path string, f *frame.Frame) error {
	img := toImage(f)
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(w, img)
	case ".pgm", ".ppm", ".pnm":
		err = writePNM(w, img)
	default:
		err = fmt.Errorf("%s: unsupported output type", path)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}

// writePNM writes binary PGM for gray images and binary PPM otherwise.
func writePNM(w io.Writer, img image.Image) error {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok {
		if _, err := fmt.Fprintf(w, "P5\n%d %d\n255\n", b.Dx(), b.Dy()); err != nil {
			return err
		}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := g.PixOffset(b.Min.X, y)
			if _, err := w.Write(g.Pix[off : off+b.Dx()]); err != nil {
				return err
			}
		}
		return nil
	}

	if _, err := fmt.Fprintf(w, "P6\n%d %d\n255\n", b.Dx(), b.Dy()); err != nil {
		return err
	}
	row := make([]byte, 3*b.Dx())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			i := 3 * (x - b.Min.X)
			row[i], row[i+1], row[i+2] = c.R, c.G, c.B
		}
		if _, err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}
