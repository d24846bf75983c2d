// SPDX-License-Identifier: MIT

package audio

import (
	"strconv"
	"strings"
	"time"

	"github.com/klangwald/aircap/internal/session"
)

// trackEpoch is the fixed reference date for track numbering.
var trackEpochYear, trackEpochMonth, trackEpochDay = 2020, time.January, 1

// Title derives the track title from the capture start timestamp:
// "YYYY-MM-DD Show".
func Title(recordingDate time.Time) string {
	return recordingDate.Format("2006-01-02") + " Show"
}

// TrackNumber is the number of whole days between 2020-01-01 and the
// recording date. Both sides are naive local calendar dates: only the
// year/month/day components count, so a recording at 00:30 and one at 23:30
// of the same local day get the same number, DST shifts included.
func TrackNumber(recordingDate time.Time) int {
	y, m, d := recordingDate.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	epoch := time.Date(trackEpochYear, trackEpochMonth, trackEpochDay, 0, 0, 0, 0, time.UTC)
	return int(day.Sub(epoch) / (24 * time.Hour))
}

// Tags builds the complete tag set for a session. Deterministic in
// (cfg, recordingDate): reprocessing the same capture yields identical tags.
func Tags(cfg session.StreamConfig, recordingDate time.Time) map[string]string {
	return map[string]string{
		"title":        Title(recordingDate),
		"artist":       cfg.Artist,
		"album":        cfg.Album,
		"album_artist": cfg.AlbumArtist,
		"track":        strconv.Itoa(TrackNumber(recordingDate)),
		"date":         strconv.Itoa(recordingDate.Year()),
	}
}

// requiredTags must read back from the finished artifact for it to validate.
var requiredTags = []string{"title", "artist", "album", "album_artist", "track"}

// OutputName renders the artifact file name from the config's pattern.
// Supported placeholders: {date} and {name}.
func OutputName(cfg session.StreamConfig, recordingDate time.Time) string {
	pattern := cfg.OutputPattern
	if pattern == "" {
		pattern = session.DefaultOutputPattern
	}
	name := sanitizeName(cfg.Name)
	out := strings.ReplaceAll(pattern, "{date}", recordingDate.Format("2006-01-02"))
	out = strings.ReplaceAll(out, "{name}", name)
	return out
}

// sanitizeName keeps stream names filesystem-safe.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "stream"
	}
	return b.String()
}
