package upload

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const previewMaxDim = 480

// FrameGrabber pulls a single JPEG frame out of a local video file.
type FrameGrabber interface {
	Frame(ctx context.Context, path string) ([]byte, error)
}

// FFmpegFrames grabs the frame at one second, scaled for previews.
type FFmpegFrames struct{}

func (FFmpegFrames) Frame(ctx context.Context, path string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		buf := bytes.NewBuffer(nil)
		err := ffmpeg.Input(path, ffmpeg.KwArgs{"ss": 1}).
			Filter("scale", ffmpeg.Args{fmt.Sprintf("%d:-2", previewMaxDim)}).
			Output("pipe:", ffmpeg.KwArgs{"vframes": 1, "format": "image2", "vcodec": "mjpeg"}).
			WithOutput(buf, io.Discard).
			Run()
		done <- result{buf.Bytes(), err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("ffmpeg frame: %w", r.err)
		}
		if len(r.data) == 0 {
			return nil, fmt.Errorf("ffmpeg frame: empty output")
		}
		return r.data, nil
	}
}

// imageDimensions reads only the header of an encoded image.
func imageDimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// imagePreview downsizes an image so its longer side is at most
// previewMaxDim and encodes it as JPEG.
func imagePreview(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > previewMaxDim || h > previewMaxDim {
		if w >= h {
			h = h * previewMaxDim / w
			w = previewMaxDim
		} else {
			w = w * previewMaxDim / h
			h = previewMaxDim
		}
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return out.Bytes(), nil
}
