package acquisition_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audibridge/internal/acquisition"
	"audibridge/internal/media/ffprobe"
	"audibridge/internal/services"
	"audibridge/internal/testsupport"
)

func sampleProbe(t *testing.T) ffprobe.Result {
	t.Helper()
	probe, err := ffprobe.Parse([]byte(testsupport.ProbeJSON))
	require.NoError(t, err)
	return probe
}

func chapter(start, end, title string) ffprobe.Chapter {
	return ffprobe.Chapter{StartTime: start, EndTime: end, Tags: map[string]string{"title": title}}
}

func TestExtractMetadataFromProbe(t *testing.T) {
	meta, err := acquisition.ExtractMetadata(sampleProbe(t))
	require.NoError(t, err)

	assert.Equal(t, "A Sample Book", meta.Title)
	assert.Equal(t, []string{"Jane Author", "John Writer"}, meta.Author)
	assert.Equal(t, 2017, meta.Year)
	assert.Equal(t, 126, meta.BitrateKbs)
	assert.Equal(t, "aac", meta.Codec)
	assert.InDelta(t, 90.0, meta.Length, 1e-9)

	require.Len(t, meta.Chapters, 3)
	ordered := meta.OrderedChapters()
	assert.Equal(t, 0.0, ordered[0].StartTime)
	assert.Equal(t, "Opening Credits", ordered[0].Title)
	assert.InDelta(t, 60.5, ordered[1].EndTime, 1e-9)
	assert.InDelta(t, 90.0, ordered[2].EndTime, 1e-9)
}

func TestExtractMetadataSnapsSmallDrift(t *testing.T) {
	probe := sampleProbe(t)
	probe.Chapters = []ffprobe.Chapter{
		chapter("60.900", "90.400", "Three"),
		chapter("0.400", "30.000", "One"),
		chapter("29.500", "60.500", "Two"),
	}

	meta, err := acquisition.ExtractMetadata(probe)
	require.NoError(t, err)

	ordered := meta.OrderedChapters()
	require.Len(t, ordered, 3)
	assert.Equal(t, []string{"One", "Two", "Three"}, []string{ordered[0].Title, ordered[1].Title, ordered[2].Title})
	assert.Equal(t, 0.0, ordered[0].StartTime)
	assert.Equal(t, ordered[0].EndTime, ordered[1].StartTime)
	assert.Equal(t, ordered[1].EndTime, ordered[2].StartTime)
	assert.Equal(t, meta.Length, ordered[2].EndTime)
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i].StartTime, ordered[i].EndTime)
	}
}

func TestExtractMetadataFallbackTags(t *testing.T) {
	probe := sampleProbe(t)
	probe.Format.Tags = map[string]string{
		"album":        "Album Title",
		"album_artist": "Solo Author",
		"year":         "1999",
	}
	probe.Streams[0].BitRate = ""

	meta, err := acquisition.ExtractMetadata(probe)
	require.NoError(t, err)

	assert.Equal(t, "Album Title", meta.Title)
	assert.Equal(t, []string{"Solo Author"}, meta.Author)
	assert.Equal(t, 1999, meta.Year)
	assert.Equal(t, 128, meta.BitrateKbs)
}

func TestExtractMetadataUnknownFieldsAreEmpty(t *testing.T) {
	probe := sampleProbe(t)
	probe.Format.Tags = nil

	meta, err := acquisition.ExtractMetadata(probe)
	require.NoError(t, err)

	assert.Empty(t, meta.Title)
	assert.NotNil(t, meta.Author)
	assert.Empty(t, meta.Author)
	assert.Zero(t, meta.Year)
}

func TestExtractMetadataRejectsBrokenInvariants(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ffprobe.Result)
	}{
		{"zero duration", func(r *ffprobe.Result) { r.Format.Duration = "0" }},
		{"unparseable duration", func(r *ffprobe.Result) { r.Format.Duration = "N/A" }},
		{"no audio stream", func(r *ffprobe.Result) { r.Streams[0].CodecType = "video" }},
		{"no chapters", func(r *ffprobe.Result) { r.Chapters = nil }},
		{"late first chapter", func(r *ffprobe.Result) {
			r.Chapters = []ffprobe.Chapter{chapter("2.5", "30", "a"), chapter("30", "90", "b")}
		}},
		{"gap between chapters", func(r *ffprobe.Result) {
			r.Chapters = []ffprobe.Chapter{chapter("0", "30", "a"), chapter("33", "90", "b")}
		}},
		{"short last chapter", func(r *ffprobe.Result) {
			r.Chapters = []ffprobe.Chapter{chapter("0", "30", "a"), chapter("30", "80", "b")}
		}},
		{"inverted chapter", func(r *ffprobe.Result) {
			r.Chapters = []ffprobe.Chapter{chapter("0", "30", "a"), chapter("30", "29.5", "b"), chapter("29.5", "90", "c")}
		}},
		{"unparseable bound", func(r *ffprobe.Result) {
			r.Chapters = []ffprobe.Chapter{chapter("0", "abc", "a")}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := sampleProbe(t)
			tt.mutate(&probe)

			_, err := acquisition.ExtractMetadata(probe)
			require.Error(t, err)
			assert.True(t, errors.Is(err, services.ErrTranscodeFailed), "got %v", err)
		})
	}
}
