package acquisition

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"audibridge/internal/media/ffprobe"
	"audibridge/internal/services"
)

// ChapterTolerance is the largest gap, overlap or edge drift in seconds that
// chapter boundaries may show and still be considered contiguous.
const ChapterTolerance = 1.0

// Chapter is one chapter of the decrypted output, in seconds.
type Chapter struct {
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	Title     string  `json:"title,omitempty"`
}

// Metadata describes the decrypted output. Chapters are keyed by their
// 0-based position in start-time order.
type Metadata struct {
	Title      string          `json:"title"`
	Author     []string        `json:"author"`
	Year       int             `json:"year"`
	BitrateKbs int             `json:"bitrate_kbs"`
	Codec      string          `json:"codec"`
	Length     float64         `json:"length"`
	Chapters   map[int]Chapter `json:"chapters"`
}

// OrderedChapters returns the chapters sorted by id.
func (m Metadata) OrderedChapters() []Chapter {
	out := make([]Chapter, len(m.Chapters))
	for id, ch := range m.Chapters {
		if id >= 0 && id < len(out) {
			out[id] = ch
		}
	}
	return out
}

// ExtractMetadata builds Metadata from an ffprobe result and enforces the
// chapter invariants: every chapter has start < end, chapters are contiguous
// within ChapterTolerance, the first starts at 0 and the last ends at the
// container length. A first start within tolerance of 0 is snapped to 0 and
// small gaps or overlaps are closed by moving the next start onto the
// previous end.
func ExtractMetadata(probe ffprobe.Result) (Metadata, error) {
	length := probe.DurationSeconds()
	if math.IsNaN(length) || length <= 0 {
		return Metadata{}, extractionError("container duration %q is not positive", probe.Format.Duration)
	}
	audio, ok := probe.AudioStream()
	if !ok {
		return Metadata{}, extractionError("no audio stream")
	}

	bitrate := audio.StreamBitRate()
	if bitrate == 0 {
		bitrate = probe.BitRate()
	}

	chapters, err := normalizeChapters(probe.Chapters, length)
	if err != nil {
		return Metadata{}, err
	}

	title := probe.Tag("title")
	if title == "" {
		title = probe.Tag("album")
	}
	author := probe.Tag("artist")
	if author == "" {
		author = probe.Tag("album_artist")
	}

	return Metadata{
		Title:      strings.TrimSpace(title),
		Author:     splitPeople(author),
		Year:       parseYear(probe.Tag("date"), probe.Tag("year")),
		BitrateKbs: int(math.Round(float64(bitrate) / 1000)),
		Codec:      audio.CodecName,
		Length:     length,
		Chapters:   chapters,
	}, nil
}

func normalizeChapters(raw []ffprobe.Chapter, length float64) (map[int]Chapter, error) {
	if len(raw) == 0 {
		return nil, extractionError("no chapters")
	}
	chapters := make([]Chapter, 0, len(raw))
	for i, ch := range raw {
		start, end := ch.Start(), ch.End()
		if math.IsNaN(start) || math.IsNaN(end) {
			return nil, extractionError("chapter %d has unparseable bounds %q-%q", i, ch.StartTime, ch.EndTime)
		}
		chapters = append(chapters, Chapter{StartTime: start, EndTime: end, Title: strings.TrimSpace(ch.Title())})
	}
	sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].StartTime < chapters[j].StartTime })

	if first := chapters[0].StartTime; math.Abs(first) > ChapterTolerance {
		return nil, extractionError("first chapter starts at %.3fs", first)
	}
	chapters[0].StartTime = 0

	for i := range chapters {
		if i > 0 {
			prevEnd := chapters[i-1].EndTime
			if math.Abs(chapters[i].StartTime-prevEnd) > ChapterTolerance {
				return nil, extractionError("chapter %d starts at %.3fs but chapter %d ends at %.3fs", i, chapters[i].StartTime, i-1, prevEnd)
			}
			chapters[i].StartTime = prevEnd
		}
		if chapters[i].StartTime >= chapters[i].EndTime {
			return nil, extractionError("chapter %d is empty or inverted (%.3fs-%.3fs)", i, chapters[i].StartTime, chapters[i].EndTime)
		}
	}

	tail := &chapters[len(chapters)-1]
	if math.Abs(tail.EndTime-length) > ChapterTolerance {
		return nil, extractionError("last chapter ends at %.3fs, container length is %.3fs", tail.EndTime, length)
	}
	if tail.StartTime >= length {
		return nil, extractionError("last chapter starts at %.3fs, container length is %.3fs", tail.StartTime, length)
	}
	tail.EndTime = length

	out := make(map[int]Chapter, len(chapters))
	for i, ch := range chapters {
		out[i] = ch
	}
	return out, nil
}

func extractionError(format string, args ...any) error {
	return services.Wrap(services.ErrTranscodeFailed, "acquisition", "metadata extraction", fmt.Sprintf(format, args...), nil)
}

func splitPeople(value string) []string {
	out := make([]string, 0)
	for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' || r == '/' }) {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func parseYear(values ...string) int {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if len(v) < 4 {
			continue
		}
		if year, err := strconv.Atoi(v[:4]); err == nil && year > 0 {
			return year
		}
	}
	return 0
}
