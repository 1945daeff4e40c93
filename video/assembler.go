// Package video assembles stored camera frames into a playable clip. The
// assembler locates the frames for a window, streams them through the fetch
// pipeline in capture order, and feeds every decodable frame to an encoder.
package video

import (
	"bytes"
	"context"
	"image/jpeg"
	"log/slog"

	"github.com/c360/framevault/errors"
	"github.com/c360/framevault/fetch"
	"github.com/c360/framevault/framekey"
	"github.com/c360/framevault/locator"
)

// DefaultFrameRate is used when a sensible rate cannot be derived from the
// window, matching the historical behavior of the service this replaces.
const DefaultFrameRate = 16.0

// FrameLocator resolves a camera and window to ordered frames.
type FrameLocator interface {
	Locate(ctx context.Context, location, camera string, window locator.TimeWindow) ([]framekey.Frame, error)
}

// Fetcher streams frame payloads in submission order.
type Fetcher interface {
	Run(ctx context.Context, keys []string) <-chan fetch.Result
}

// AssembledVideo describes a finished clip on disk.
type AssembledVideo struct {
	Path       string
	FrameCount int
	FPS        float64
}

// Assembler builds video files from stored frames.
type Assembler struct {
	locator    FrameLocator
	fetcher    Fetcher
	newEncoder EncoderFactory
	logger     *slog.Logger
}

// NewAssembler creates an Assembler. A nil factory selects the MJPEG encoder.
func NewAssembler(loc FrameLocator, fetcher Fetcher, factory EncoderFactory, logger *slog.Logger) *Assembler {
	if factory == nil {
		factory = NewMJPEGEncoder
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		locator:    loc,
		fetcher:    fetcher,
		newEncoder: factory,
		logger:     logger,
	}
}

// Assemble writes the clip for location/camera over the window to outPath.
//
// The frame rate is the located frame count divided by the span between the
// first and last frames, falling back to DefaultFrameRate when that yields
// nothing usable.
// Frames that fail to fetch or decode are skipped; producing zero frames is
// an encode failure.
func (a *Assembler) Assemble(ctx context.Context, location, camera string, window locator.TimeWindow, outPath string) (*AssembledVideo, error) {
	frames, err := a.locator.Locate(ctx, location, camera, window)
	if err != nil {
		return nil, err
	}

	fps := estimateFPS(frames)

	keys := make([]string, len(frames))
	for i, frame := range frames {
		keys[i] = frame.Key
	}

	var (
		enc     Encoder
		encoded int
	)
	results := a.fetcher.Run(ctx, keys)
	for res := range results {
		if res.Err != nil {
			a.logger.Warn("Skipping frame that failed to fetch", "key", res.Key, "error", res.Err)
			continue
		}

		dims, err := jpeg.DecodeConfig(bytes.NewReader(res.Data))
		if err != nil {
			a.logger.Warn("Skipping undecodable frame", "key", res.Key, "error", err)
			continue
		}

		// First good frame fixes the clip dimensions.
		if enc == nil {
			enc, err = a.newEncoder(outPath, dims.Width, dims.Height, fps)
			if err != nil {
				// Unblock the pipeline before bailing out
				for range results {
				}
				return nil, errors.WrapFatal(errors.ErrEncodeFailed, "Assembler", "Assemble", "open encoder for "+outPath)
			}
		}

		if err := enc.AddJPEG(res.Data); err != nil {
			a.logger.Warn("Skipping frame the encoder rejected", "key", res.Key, "error", err)
			continue
		}
		encoded++
	}

	if enc == nil {
		return nil, errors.WrapTransient(errors.ErrEncodeFailed, "Assembler", "Assemble", "no usable frames")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.WrapTransient(errors.ErrEncodeFailed, "Assembler", "Assemble", "finalize "+outPath)
	}
	if encoded == 0 {
		return nil, errors.WrapTransient(errors.ErrEncodeFailed, "Assembler", "Assemble", "no frames encoded")
	}

	a.logger.Info("Assembled video",
		"location", location,
		"camera", camera,
		"frames", encoded,
		"fps", fps,
		"path", outPath,
	)

	return &AssembledVideo{
		Path:       outPath,
		FrameCount: encoded,
		FPS:        fps,
	}, nil
}

// estimateFPS derives the playback rate from the span between the first and
// last located frames. A single frame or a degenerate span gives no usable
// estimate, so the default rate applies.
func estimateFPS(frames []framekey.Frame) float64 {
	if len(frames) < 2 {
		return DefaultFrameRate
	}
	seconds := frames[len(frames)-1].Instant.Sub(frames[0].Instant).Seconds()
	if seconds <= 0 {
		return DefaultFrameRate
	}
	return float64(len(frames)) / seconds
}
