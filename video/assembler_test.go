package video

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/framevault/config"
	"github.com/c360/framevault/errors"
	"github.com/c360/framevault/fetch"
	"github.com/c360/framevault/framekey"
	"github.com/c360/framevault/locator"
	"github.com/c360/framevault/testutil"
)

type fakeEncoder struct {
	path   string
	width  int
	height int
	fps    float64
	frames [][]byte
	closed bool
}

func (f *fakeEncoder) AddJPEG(frame []byte) error {
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeEncoder) Close() error {
	f.closed = true
	return nil
}

type encoderRecorder struct {
	enc     *fakeEncoder
	openErr error
}

func (r *encoderRecorder) factory(path string, width, height int, fps float64) (Encoder, error) {
	if r.openErr != nil {
		return nil, r.openErr
	}
	r.enc = &fakeEncoder{path: path, width: width, height: height, fps: fps}
	return r.enc, nil
}

func newTestAssembler(t *testing.T, store *testutil.MemStore, rec *encoderRecorder) *Assembler {
	t.Helper()

	pipeline, err := fetch.New(store, config.VideoConfig{
		MaxDuration:      config.Duration(180 * time.Second),
		FetchConcurrency: 4,
		FetchTimeout:     config.Duration(time.Second),
	}, nil, nil)
	require.NoError(t, err)

	return NewAssembler(locator.New(store, nil), pipeline, rec.factory, nil)
}

func TestAssemble_FrameCountOrderAndRate(t *testing.T) {
	store := testutil.NewMemStore()
	start := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

	// Five frames one second apart over a four second window
	var want [][]byte
	for i := 0; i < 5; i++ {
		data := testutil.JPEGFrame(t, 8, 6, uint8(i*40))
		store.Seed(framekey.Encode("yard", "cam1", start.Add(time.Duration(i)*time.Second)), data)
		want = append(want, data)
	}

	rec := &encoderRecorder{}
	asm := newTestAssembler(t, store, rec)

	out, err := asm.Assemble(context.Background(), "yard", "cam1",
		locator.TimeWindow{Start: start, End: start.Add(4 * time.Second)}, "/tmp/out.mp4")
	require.NoError(t, err)

	assert.Equal(t, 5, out.FrameCount)
	assert.InDelta(t, 1.25, out.FPS, 1e-9)
	assert.Equal(t, "/tmp/out.mp4", out.Path)

	require.NotNil(t, rec.enc)
	assert.Equal(t, 8, rec.enc.width)
	assert.Equal(t, 6, rec.enc.height)
	assert.True(t, rec.enc.closed)
	assert.Equal(t, want, rec.enc.frames, "frames must be encoded in capture order")
}

func TestAssemble_SkipsUndecodableFrames(t *testing.T) {
	store := testutil.NewMemStore()
	start := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

	store.Seed(framekey.Encode("yard", "cam1", start), []byte("not a jpeg"))
	store.Seed(framekey.Encode("yard", "cam1", start.Add(time.Second)), testutil.JPEGFrame(t, 4, 4, 10))

	rec := &encoderRecorder{}
	asm := newTestAssembler(t, store, rec)

	out, err := asm.Assemble(context.Background(), "yard", "cam1",
		locator.TimeWindow{Start: start, End: start.Add(2 * time.Second)}, "/tmp/out.mp4")
	require.NoError(t, err)
	assert.Equal(t, 1, out.FrameCount)
}

func TestAssemble_SkipsFailedFetches(t *testing.T) {
	store := testutil.NewMemStore()
	start := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

	badKey := framekey.Encode("yard", "cam1", start)
	store.Seed(badKey, testutil.JPEGFrame(t, 4, 4, 1))
	store.FailKeys[badKey] = true
	store.Seed(framekey.Encode("yard", "cam1", start.Add(time.Second)), testutil.JPEGFrame(t, 4, 4, 2))

	rec := &encoderRecorder{}
	asm := newTestAssembler(t, store, rec)

	out, err := asm.Assemble(context.Background(), "yard", "cam1",
		locator.TimeWindow{Start: start, End: start.Add(2 * time.Second)}, "/tmp/out.mp4")
	require.NoError(t, err)
	assert.Equal(t, 1, out.FrameCount)
}

func TestAssemble_NoFramesPropagatesNotFound(t *testing.T) {
	store := testutil.NewMemStore()
	start := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

	rec := &encoderRecorder{}
	asm := newTestAssembler(t, store, rec)

	_, err := asm.Assemble(context.Background(), "yard", "cam1",
		locator.TimeWindow{Start: start, End: start.Add(time.Minute)}, "/tmp/out.mp4")
	assert.ErrorIs(t, err, errors.ErrNoFrames)
	assert.Nil(t, rec.enc)
}

func TestAssemble_AllFramesUnusable(t *testing.T) {
	store := testutil.NewMemStore()
	start := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

	store.Seed(framekey.Encode("yard", "cam1", start), []byte("junk"))

	rec := &encoderRecorder{}
	asm := newTestAssembler(t, store, rec)

	_, err := asm.Assemble(context.Background(), "yard", "cam1",
		locator.TimeWindow{Start: start, End: start.Add(time.Second)}, "/tmp/out.mp4")
	assert.ErrorIs(t, err, errors.ErrEncodeFailed)
}

func TestAssemble_EncoderOpenFailure(t *testing.T) {
	store := testutil.NewMemStore()
	start := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

	store.Seed(framekey.Encode("yard", "cam1", start), testutil.JPEGFrame(t, 4, 4, 1))

	rec := &encoderRecorder{openErr: errors.New("disk full")}
	asm := newTestAssembler(t, store, rec)

	_, err := asm.Assemble(context.Background(), "yard", "cam1",
		locator.TimeWindow{Start: start, End: start.Add(time.Second)}, "/tmp/out.mp4")
	assert.ErrorIs(t, err, errors.ErrEncodeFailed)
	assert.True(t, errors.IsFatal(err))
}

func TestEstimateFPS(t *testing.T) {
	start := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

	frameAt := func(offset time.Duration) framekey.Frame {
		instant := start.Add(offset)
		return framekey.Frame{
			Location: "yard",
			Camera:   "cam1",
			Instant:  instant,
			Key:      framekey.Encode("yard", "cam1", instant),
		}
	}

	// 32 frames spanning 2 seconds
	var frames []framekey.Frame
	for i := 0; i < 32; i++ {
		frames = append(frames, frameAt(time.Duration(i)*2*time.Second/31))
	}
	assert.InDelta(t, 16.0, estimateFPS(frames), 1e-9)

	// A single frame has no span to estimate from
	assert.Equal(t, DefaultFrameRate, estimateFPS([]framekey.Frame{frameAt(0)}))

	// No frames falls back rather than producing a zero rate
	assert.Equal(t, DefaultFrameRate, estimateFPS(nil))

	// Identical instants give a degenerate span
	assert.Equal(t, DefaultFrameRate, estimateFPS([]framekey.Frame{frameAt(time.Second), frameAt(time.Second)}))
}
