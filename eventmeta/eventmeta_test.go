package eventmeta

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/framevault/errors"
	"github.com/c360/framevault/testutil"
)

var (
	testStart = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	testEnd   = testStart.Add(time.Minute)
	maxSpan   = 180 * time.Second
)

func TestBuildDocument_Valid(t *testing.T) {
	doc, err := BuildDocument("evt-1", testStart, testEnd, "yard,lobby", "cam1,cam2", maxSpan)
	require.NoError(t, err)

	assert.Equal(t, "evt-1", doc.EventID)
	assert.Equal(t, "2024-05-06T10:00:00Z", doc.StartTimestamp)
	assert.Equal(t, "2024-05-06T10:01:00Z", doc.EndTimestamp)
	require.Len(t, doc.VideoSources, 2)
	assert.Equal(t, Source{LocationName: "yard", CameraID: "cam1"}, doc.VideoSources[0])
	assert.Equal(t, Source{LocationName: "lobby", CameraID: "cam2"}, doc.VideoSources[1])
}

func TestBuildDocument_JSONFieldNames(t *testing.T) {
	doc, err := BuildDocument("evt-1", testStart, testEnd, "yard", "cam1", maxSpan)
	require.NoError(t, err)

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	// The start field keeps its historical capital S
	assert.Contains(t, string(data), `"startTimeStamp"`)
	assert.Contains(t, string(data), `"endTimestamp"`)
	assert.Contains(t, string(data), `"videoSources"`)
}

func TestBuildDocument_SpanBounds(t *testing.T) {
	// A span exactly at the maximum is accepted
	_, err := BuildDocument("evt-1", testStart, testStart.Add(maxSpan), "yard", "cam1", maxSpan)
	assert.NoError(t, err)

	// One second over is rejected
	_, err = BuildDocument("evt-1", testStart, testStart.Add(maxSpan+time.Second), "yard", "cam1", maxSpan)
	assert.ErrorIs(t, err, errors.ErrInvalidWindow)
}

func TestBuildDocument_Invalid(t *testing.T) {
	longName := strings.Repeat("x", 257)

	tests := []struct {
		name       string
		id         string
		start, end time.Time
		locations  string
		cameras    string
	}{
		{"empty id", "", testStart, testEnd, "yard", "cam1"},
		{"id too long", strings.Repeat("a", 33), testStart, testEnd, "yard", "cam1"},
		{"zero start", "evt-1", time.Time{}, testEnd, "yard", "cam1"},
		{"start equals end", "evt-1", testStart, testStart, "yard", "cam1"},
		{"inverted window", "evt-1", testEnd, testStart, "yard", "cam1"},
		{"empty lists", "evt-1", testStart, testEnd, "", ""},
		{"mismatched list lengths", "evt-1", testStart, testEnd, "yard,lobby", "cam1"},
		{"location too long", "evt-1", testStart, testEnd, longName, "cam1"},
		{"camera too long", "evt-1", testStart, testEnd, "yard", longName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildDocument(tt.id, tt.start, tt.end, tt.locations, tt.cameras, maxSpan)
			assert.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, "events/evt-42.json", KeyFor("evt-42"))
}

func TestStore_SaveAndLoad(t *testing.T) {
	mem := testutil.NewMemStore()
	store := NewStore(mem, nil)
	ctx := context.Background()

	doc, err := BuildDocument("evt-1", testStart, testEnd, "yard", "cam1", maxSpan)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, doc))

	loaded, err := store.Load(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, doc, loaded)
}

func TestStore_SaveReplaces(t *testing.T) {
	mem := testutil.NewMemStore()
	store := NewStore(mem, nil)
	ctx := context.Background()

	first, err := BuildDocument("evt-1", testStart, testEnd, "yard", "cam1", maxSpan)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, first))

	second, err := BuildDocument("evt-1", testStart, testEnd, "lobby", "cam9", maxSpan)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, second))

	loaded, err := store.Load(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "cam9", loaded.VideoSources[0].CameraID)
}

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(testutil.NewMemStore(), nil)

	_, err := store.Load(context.Background(), "evt-404")
	assert.True(t, errors.IsNotFound(err))
}

func TestStore_LoadInvalidID(t *testing.T) {
	store := NewStore(testutil.NewMemStore(), nil)

	_, err := store.Load(context.Background(), strings.Repeat("a", 33))
	assert.True(t, errors.IsInvalid(err))
}
