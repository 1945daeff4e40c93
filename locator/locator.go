// Package locator resolves a camera and time window to the ordered set of
// frame keys stored for it. Search matches minute-granularity prefixes in a
// single listing pass, so a window never costs more than one bucket walk.
package locator

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/c360/framevault/errors"
	"github.com/c360/framevault/framekey"
)

// Lister enumerates stored keys matching any of the given prefixes in one
// pass. Satisfied by store.FrameStore.
type Lister interface {
	List(ctx context.Context, prefixes ...string) ([]string, error)
}

// TimeWindow is a half-open request range in intent, but frame selection is
// inclusive on both ends: a frame stamped exactly at Start or End is returned.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Validate rejects windows that are inverted, empty, or longer than max.
func (w TimeWindow) Validate(max time.Duration) error {
	if w.Start.IsZero() || w.End.IsZero() {
		return errors.WrapInvalid(errors.ErrInvalidWindow, "TimeWindow", "Validate", "start and end are required")
	}
	if !w.Start.Before(w.End) {
		return errors.WrapInvalid(errors.ErrInvalidWindow, "TimeWindow", "Validate", "start must precede end")
	}
	if w.Duration() > max {
		return errors.WrapInvalid(errors.ErrInvalidWindow, "TimeWindow", "Validate",
			"window exceeds maximum of "+max.String())
	}
	return nil
}

// Duration returns the window length.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Locator finds frames for a camera within a time window.
type Locator struct {
	store  Lister
	logger *slog.Logger
}

// New creates a Locator over the given key lister.
func New(store Lister, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{store: store, logger: logger}
}

// Locate returns the frames for location/camera whose timestamps fall within
// the window, inclusive of both endpoints, ordered by capture instant.
// Malformed keys under a matching prefix are skipped and logged, never fatal.
// A window containing no frames yields ErrNoFrames.
func (l *Locator) Locate(ctx context.Context, location, camera string, window TimeWindow) ([]framekey.Frame, error) {
	prefixes := framekey.SearchPrefixes(location, camera, window.Start, window.End)
	keys, err := l.store.List(ctx, prefixes...)
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrStoreUnavailable, "Locator", "Locate",
			"list "+location+"/"+camera)
	}

	var frames []framekey.Frame
	for _, key := range keys {
		frame, err := framekey.Decode(key)
		if err != nil {
			l.logger.Warn("Skipping malformed frame key", "key", key, "error", err)
			continue
		}
		if frame.Instant.Before(window.Start) || frame.Instant.After(window.End) {
			continue
		}
		frames = append(frames, frame)
	}

	// Keys arrive sorted and the key layout makes lexicographic order match
	// chronological order, but the ordering contract is on instants, so sort
	// as a backstop.
	sort.Slice(frames, func(i, j int) bool {
		return frames[i].Instant.Before(frames[j].Instant)
	})

	if len(frames) == 0 {
		return nil, errors.WrapNotFound(errors.ErrNoFrames, "Locator", "Locate",
			location+"/"+camera+" in requested window")
	}
	return frames, nil
}
