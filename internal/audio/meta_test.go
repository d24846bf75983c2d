// SPDX-License-Identifier: MIT

package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klangwald/aircap/internal/session"
)

func TestTitle(t *testing.T) {
	d := time.Date(2024, 3, 5, 6, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-05 Show", Title(d))
}

func TestTrackNumberEpoch(t *testing.T) {
	assert.Equal(t, 0, TrackNumber(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, TrackNumber(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 31, TrackNumber(time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)))
	// 2020 is a leap year.
	assert.Equal(t, 366, TrackNumber(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestTrackNumberIgnoresTimeOfDay(t *testing.T) {
	early := time.Date(2024, 3, 5, 0, 30, 0, 0, time.UTC)
	late := time.Date(2024, 3, 5, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, TrackNumber(early), TrackNumber(late))
}

func TestTrackNumberAcrossDSTShift(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// 2024-03-31 is the spring-forward day in Berlin: a 23-hour day. The
	// numbering must still advance by exactly one per calendar day.
	before := time.Date(2024, 3, 30, 12, 0, 0, 0, loc)
	during := time.Date(2024, 3, 31, 12, 0, 0, 0, loc)
	after := time.Date(2024, 4, 1, 12, 0, 0, 0, loc)

	assert.Equal(t, TrackNumber(before)+1, TrackNumber(during))
	assert.Equal(t, TrackNumber(during)+1, TrackNumber(after))
}

func TestTagsDeterministic(t *testing.T) {
	cfg := session.StreamConfig{
		Name:        "Morning Show",
		Artist:      "Station",
		Album:       "Morning Archive",
		AlbumArtist: "Station",
	}
	d := time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC)

	first := Tags(cfg, d)
	second := Tags(cfg, d)
	require.Equal(t, first, second)

	assert.Equal(t, "2024-03-05 Show", first["title"])
	assert.Equal(t, "Station", first["artist"])
	assert.Equal(t, "Morning Archive", first["album"])
	assert.Equal(t, "2024", first["date"])
	assert.NotEmpty(t, first["track"])
}

func TestOutputName(t *testing.T) {
	d := time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC)

	cfg := session.StreamConfig{Name: "Morning Show"}
	assert.Equal(t, "2024-03-05_Morning_Show.mp3", OutputName(cfg, d))

	cfg.OutputPattern = "{name}/{date}.mp3"
	assert.Equal(t, "Morning_Show/2024-03-05.mp3", OutputName(cfg, d))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "ab_c-1", sanitizeName("ab c-1"))
	assert.Equal(t, "stream", sanitizeName("!!!"))
	assert.Equal(t, "stream", sanitizeName(""))
	assert.Equal(t, "caf", sanitizeName("café"))
}
