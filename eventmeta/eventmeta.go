// Package eventmeta manages event descriptors: small JSON documents that
// bookmark a time window across one or more cameras. Descriptors live in the
// same object store as frames, under the events/ prefix.
package eventmeta

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/framevault/errors"
)

const (
	maxEventIDLength = 32
	maxNameLength    = 256
	keyPrefix        = "events/"
	contentType      = "application/json"
)

// Source identifies one camera covered by an event.
type Source struct {
	LocationName string `json:"locationName"`
	CameraID     string `json:"cameraId"`
}

// Document is the stored shape of an event descriptor. The StartTimestamp
// JSON name carries the inner capital S for compatibility with documents
// written by the system this replaces.
type Document struct {
	EventID        string   `json:"eventId"`
	StartTimestamp string   `json:"startTimeStamp"`
	EndTimestamp   string   `json:"endTimestamp"`
	VideoSources   []Source `json:"videoSources"`
}

// KeyFor returns the object store key for an event id.
func KeyFor(id string) string {
	return keyPrefix + id + ".json"
}

// BuildDocument validates the raw event fields and produces a Document.
// Locations and cameras are comma separated lists that must pair up
// one-to-one.
func BuildDocument(id string, start, end time.Time, locations, cameras string, maxSpan time.Duration) (*Document, error) {
	if id == "" || len(id) > maxEventIDLength {
		return nil, errors.WrapInvalid(errors.ErrInvalidRequest, "eventmeta", "BuildDocument",
			fmt.Sprintf("event id must be 1-%d characters", maxEventIDLength))
	}
	if start.IsZero() || end.IsZero() {
		return nil, errors.WrapInvalid(errors.ErrInvalidTimestamp, "eventmeta", "BuildDocument",
			"start and end timestamps are required")
	}
	if !start.Before(end) {
		return nil, errors.WrapInvalid(errors.ErrInvalidWindow, "eventmeta", "BuildDocument",
			"start must precede end")
	}
	if end.Sub(start) > maxSpan {
		return nil, errors.WrapInvalid(errors.ErrInvalidWindow, "eventmeta", "BuildDocument",
			"event span exceeds maximum of "+maxSpan.String())
	}

	locationList := splitList(locations)
	cameraList := splitList(cameras)
	if len(locationList) == 0 || len(locationList) != len(cameraList) {
		return nil, errors.WrapInvalid(errors.ErrInvalidRequest, "eventmeta", "BuildDocument",
			"locations and cameras must be non-empty lists of equal length")
	}

	sources := make([]Source, len(locationList))
	for i := range locationList {
		if len(locationList[i]) > maxNameLength || len(cameraList[i]) > maxNameLength {
			return nil, errors.WrapInvalid(errors.ErrInvalidRequest, "eventmeta", "BuildDocument",
				fmt.Sprintf("location and camera names must be at most %d characters", maxNameLength))
		}
		sources[i] = Source{LocationName: locationList[i], CameraID: cameraList[i]}
	}

	return &Document{
		EventID:        id,
		StartTimestamp: start.UTC().Format(time.RFC3339),
		EndTimestamp:   end.UTC().Format(time.RFC3339),
		VideoSources:   sources,
	}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ObjectStore is the slice of the frame store the event store needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Store reads and writes event descriptors.
type Store struct {
	objects ObjectStore
	logger  *slog.Logger
}

// NewStore creates an event descriptor store over the shared object store.
func NewStore(objects ObjectStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{objects: objects, logger: logger}
}

// Save persists a descriptor, replacing any previous version under the same
// event id.
func (s *Store) Save(ctx context.Context, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.WrapInvalid(err, "EventStore", "Save", "marshal "+doc.EventID)
	}

	if err := s.objects.Put(ctx, KeyFor(doc.EventID), data, contentType); err != nil {
		return errors.WrapTransient(err, "EventStore", "Save", "store "+doc.EventID)
	}

	s.logger.Info("Saved event descriptor", "eventId", doc.EventID, "sources", len(doc.VideoSources))
	return nil
}

// Load retrieves the descriptor for an event id.
func (s *Store) Load(ctx context.Context, id string) (*Document, error) {
	if id == "" || len(id) > maxEventIDLength {
		return nil, errors.WrapInvalid(errors.ErrInvalidRequest, "EventStore", "Load", "event id")
	}

	data, err := s.objects.Get(ctx, KeyFor(id))
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.WrapNotFound(errors.ErrKeyNotFound, "EventStore", "Load", id)
		}
		return nil, errors.WrapTransient(err, "EventStore", "Load", "read "+id)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "EventStore", "Load", "parse "+id)
	}
	return &doc, nil
}
