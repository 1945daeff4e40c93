package framekey

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/framevault/errors"
)

func TestEncode_Format(t *testing.T) {
	instant := time.Date(2024, 5, 6, 10, 0, 4, 250*int(time.Millisecond), time.UTC)

	key := Encode("yard", "cam1", instant)

	assert.Equal(t, "yard/cam1/2024-05-06/10:00:04.250Z.jpg", key)
}

func TestEncode_NormalizesToUTC(t *testing.T) {
	zone := time.FixedZone("CET", 3600)
	instant := time.Date(2024, 5, 6, 11, 30, 0, 0, zone)

	key := Encode("yard", "cam1", instant)

	assert.Equal(t, "yard/cam1/2024-05-06/10:30:00.000Z.jpg", key)
}

func TestEncode_ZeroPadding(t *testing.T) {
	instant := time.Date(2024, 1, 2, 3, 4, 5, 6*int(time.Millisecond), time.UTC)

	assert.Equal(t, "a/b/2024-01-02/03:04:05.006Z.jpg", Encode("a", "b", instant))
}

func TestDecode_RoundTrip(t *testing.T) {
	instant := time.Date(2024, 5, 6, 10, 0, 4, 250*int(time.Millisecond), time.UTC)
	key := Encode("yard", "cam1", instant)

	frame, err := Decode(key)
	require.NoError(t, err)

	assert.Equal(t, "yard", frame.Location)
	assert.Equal(t, "cam1", frame.Camera)
	assert.True(t, frame.Instant.Equal(instant))
	assert.Equal(t, key, frame.Key)
}

func TestDecode_ToleratesMissingZoneMarker(t *testing.T) {
	frame, err := Decode("yard/cam1/2024-05-06/10:00:04.250.jpg")
	require.NoError(t, err)

	assert.True(t, frame.Instant.Equal(time.Date(2024, 5, 6, 10, 0, 4, 250*int(time.Millisecond), time.UTC)))
}

func TestDecode_Malformed(t *testing.T) {
	keys := []string{
		"events/abc123.json",
		"yard/cam1/snapshot.jpg",
		"yard/cam1/2024-05-06/10:00:04.jpg",     // missing millis
		"yard/cam1/2024-05-06/10:00:04.250X.jpg", // bad zone marker
		"yard/cam1/2024-05-06/10:00:04.250Z.png",
		"yard/2024-05-06/10:00:04.250Z.jpg", // missing camera segment
		"",
	}

	for _, key := range keys {
		_, err := Decode(key)
		assert.ErrorIs(t, err, errors.ErrMalformedKey, "key %q", key)
	}
}

// Lexicographic key order must equal chronological order; the locator's sort
// is only a backstop of this property.
func TestEncode_OrderPreserving(t *testing.T) {
	instants := []time.Time{
		time.Date(2024, 5, 6, 9, 59, 59, 999*int(time.Millisecond), time.UTC),
		time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 6, 10, 0, 0, 1e6, time.UTC),
		time.Date(2024, 5, 6, 23, 59, 59, 999*int(time.Millisecond), time.UTC),
		time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	keys := make([]string, len(instants))
	for i, instant := range instants {
		keys[i] = Encode("yard", "cam1", instant)
	}

	assert.True(t, sort.StringsAreSorted(keys), "keys not in lexicographic order: %v", keys)
}

func TestSearchPrefixes_SingleMinute(t *testing.T) {
	start := time.Date(2024, 5, 6, 10, 0, 10, 0, time.UTC)
	end := time.Date(2024, 5, 6, 10, 0, 50, 0, time.UTC)

	prefixes := SearchPrefixes("yard", "cam1", start, end)

	assert.Equal(t, []string{"yard/cam1/2024-05-06/10:00:"}, prefixes)
}

func TestSearchPrefixes_InclusiveBounds(t *testing.T) {
	start := time.Date(2024, 5, 6, 10, 0, 59, 0, time.UTC)
	end := time.Date(2024, 5, 6, 10, 3, 0, 0, time.UTC)

	prefixes := SearchPrefixes("yard", "cam1", start, end)

	assert.Equal(t, []string{
		"yard/cam1/2024-05-06/10:00:",
		"yard/cam1/2024-05-06/10:01:",
		"yard/cam1/2024-05-06/10:02:",
		"yard/cam1/2024-05-06/10:03:",
	}, prefixes)
}

// A window spanning midnight enumerates uniformly across the day boundary;
// there is no special case.
func TestSearchPrefixes_AcrossMidnight(t *testing.T) {
	start := time.Date(2024, 5, 6, 23, 59, 0, 0, time.UTC)
	end := time.Date(2024, 5, 7, 0, 1, 0, 0, time.UTC)

	prefixes := SearchPrefixes("yard", "cam1", start, end)

	assert.Equal(t, []string{
		"yard/cam1/2024-05-06/23:59:",
		"yard/cam1/2024-05-07/00:00:",
		"yard/cam1/2024-05-07/00:01:",
	}, prefixes)
}
