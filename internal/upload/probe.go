package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Media is what a probe learns about a stored file.
type Media struct {
	DurationSec *float64
	Width       int
	Height      int
}

// Prober inspects a video file on local disk.
type Prober interface {
	Probe(ctx context.Context, path string) (Media, error)
}

// FFProbe shells out to ffprobe through ffmpeg-go.
type FFProbe struct{}

func (FFProbe) Probe(ctx context.Context, path string) (Media, error) {
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := ffmpeg.Probe(path)
		done <- result{out, err}
	}()
	select {
	case <-ctx.Done():
		return Media{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return Media{}, fmt.Errorf("ffprobe: %w", r.err)
		}
		return parseProbe([]byte(r.out))
	}
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

func parseProbe(data []byte) (Media, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Media{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	var m Media
	durations := []string{out.Format.Duration}
	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		if m.Width == 0 {
			m.Width, m.Height = s.Width, s.Height
		}
		durations = append(durations, s.Duration)
	}
	for _, d := range durations {
		if v, err := strconv.ParseFloat(d, 64); err == nil && v > 0 {
			m.DurationSec = &v
			break
		}
	}
	return m, nil
}
