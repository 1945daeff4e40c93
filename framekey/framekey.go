// Package framekey defines the key scheme that maps a (location, camera,
// instant) identity to an object store key and back. The scheme is shared by
// the frame locator and the ingestion bridge: both sides must agree on it for
// retrieval to find what ingestion wrote.
//
// Keys have the shape
//
//	<location>/<camera>/<yyyy-MM-dd>/<HH:mm:ss.SSS>Z.jpg
//
// with all numeric fields zero-padded and ordered coarsest-first, so the
// lexicographic order of keys equals the chronological order of their capture
// instants. Search prefixes truncate the time component at minute granularity.
package framekey

import (
	"fmt"
	"regexp"
	"time"

	"github.com/c360/framevault/errors"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04:05.000"
)

// keyPattern matches frame keys within the location/camera namespace.
// A trailing time-zone marker is tolerated; anything else is not a frame key.
var keyPattern = regexp.MustCompile(
	`^([^/]+)/([^/]+)/(\d{4}-\d{2}-\d{2})/(\d{2}:\d{2}:\d{2}\.\d{3})Z?\.jpg$`)

// Frame identifies one stored frame.
type Frame struct {
	Location string
	Camera   string
	Instant  time.Time
	Key      string
}

// Encode builds the store key for a frame captured at the given instant.
// The instant is normalized to UTC before formatting so that keys sort
// chronologically regardless of the producer's zone offset.
func Encode(location, camera string, instant time.Time) string {
	utc := instant.UTC()
	return fmt.Sprintf("%s/%s/%s/%sZ.jpg",
		location, camera, utc.Format(dateLayout), utc.Format(clockLayout))
}

// Decode parses a store key back into its frame identity. Keys outside the
// frame namespace (stray objects, event documents) fail with ErrMalformedKey
// so callers can skip them without treating the condition as fatal.
func Decode(key string) (Frame, error) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return Frame{}, errors.WrapInvalid(errors.ErrMalformedKey, "framekey", "Decode", "match "+key)
	}

	instant, err := time.Parse(dateLayout+"/"+clockLayout, m[3]+"/"+m[4])
	if err != nil {
		return Frame{}, errors.WrapInvalid(errors.ErrMalformedKey, "framekey", "Decode", "parse instant of "+key)
	}

	return Frame{
		Location: m[1],
		Camera:   m[2],
		Instant:  instant,
		Key:      key,
	}, nil
}

// SearchPrefixes enumerates the minute-granularity listing prefixes covering
// [start, end]. Both bounds are truncated to the minute and included, so a
// window is always covered by at least one prefix. Each prefix has the shape
// <location>/<camera>/<yyyy-MM-dd>/<HH:mm>: and spans at most one minute of
// keys, which keeps individual store listings small.
func SearchPrefixes(location, camera string, start, end time.Time) []string {
	first := start.UTC().Truncate(time.Minute)
	last := end.UTC().Truncate(time.Minute)

	var prefixes []string
	for t := first; !t.After(last); t = t.Add(time.Minute) {
		prefixes = append(prefixes, fmt.Sprintf("%s/%s/%s/%s:",
			location, camera, t.Format(dateLayout), t.Format("15:04")))
	}
	return prefixes
}
