package video

import (
	"math"

	"github.com/icza/mjpeg"

	"github.com/c360/framevault/errors"
)

// Encoder consumes JPEG frames and writes a video file.
type Encoder interface {
	AddJPEG(frame []byte) error
	Close() error
}

// EncoderFactory opens an encoder writing to path. Width and height come from
// the first decodable frame; fps is the estimated playback rate.
type EncoderFactory func(path string, width, height int, fps float64) (Encoder, error)

// mjpegEncoder writes an MJPEG AVI. The container wants an integer frame
// rate, so the estimate is rounded with a floor of 1.
type mjpegEncoder struct {
	writer mjpeg.AviWriter
}

// NewMJPEGEncoder is the production EncoderFactory.
func NewMJPEGEncoder(path string, width, height int, fps float64) (Encoder, error) {
	rate := int32(math.Round(fps))
	if rate < 1 {
		rate = 1
	}

	writer, err := mjpeg.New(path, int32(width), int32(height), rate)
	if err != nil {
		return nil, errors.WrapFatal(err, "mjpegEncoder", "New", "open "+path)
	}
	return &mjpegEncoder{writer: writer}, nil
}

func (e *mjpegEncoder) AddJPEG(frame []byte) error {
	if err := e.writer.AddFrame(frame); err != nil {
		return errors.WrapTransient(err, "mjpegEncoder", "AddJPEG", "append frame")
	}
	return nil
}

func (e *mjpegEncoder) Close() error {
	if err := e.writer.Close(); err != nil {
		return errors.WrapTransient(err, "mjpegEncoder", "Close", "finalize video")
	}
	return nil
}
