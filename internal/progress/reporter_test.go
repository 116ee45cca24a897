package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{256 * 1024 * 1024, "256 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
		{1024 * 1024 * 1024 * 1024, "1.0 TiB"},
		{2.5 * 1024 * 1024 * 1024 * 1024, "2.5 TiB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatBytes(tt.input), "FormatBytes(%d)", tt.input)
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"100", 100},
		{"100B", 100},
		{"1KiB", 1024},
		{"1.5KiB", 1536},
		{"256MiB", 256 * 1024 * 1024},
		{"1GiB", 1024 * 1024 * 1024},
		{"1TiB", 1024 * 1024 * 1024 * 1024},
		// SI units
		{"1KB", 1000},
		{"1MB", 1000 * 1000},
		{"1GB", 1000 * 1000 * 1000},
	}

	for _, tt := range tests {
		result, err := ParseBytes(tt.input)
		if !assert.NoError(t, err, "ParseBytes(%q)", tt.input) {
			continue
		}
		assert.Equal(t, tt.expected, result, "ParseBytes(%q)", tt.input)
	}
}

func TestParseBytesInvalid(t *testing.T) {
	_, err := ParseBytes("invalid")
	assert.Error(t, err)

	_, err = ParseBytes("20EB")
	assert.ErrorContains(t, err, "out of range")
}

func TestReporterTracking(t *testing.T) {
	r := NewReporter(Options{TotalFiles: 3, TotalSize: 1024})

	r.Publish(Event{TaskID: "a", Phase: PhaseQueued})
	r.Publish(Event{TaskID: "a", Phase: PhaseDownloading})
	r.Publish(Event{TaskID: "a", Phase: PhaseDownloading, Bytes: 256})
	_, _, inProgress := r.Counts()
	assert.Equal(t, 1, inProgress)
	assert.Equal(t, int64(256), r.Bytes())

	// A retry restarts from zero; the failed attempt's bytes are dropped.
	r.Publish(Event{TaskID: "a", Phase: PhaseDownloading, Bytes: 100})
	assert.Equal(t, int64(100), r.Bytes())
	r.Publish(Event{TaskID: "a", Phase: PhaseDownloading, Bytes: 300})
	assert.Equal(t, int64(300), r.Bytes())

	r.Publish(Event{TaskID: "a", Phase: PhaseDone})
	r.Publish(Event{TaskID: "b", Phase: PhaseDownloading})
	r.Publish(Event{TaskID: "b", Phase: PhaseFailed})

	done, failed, inProgress := r.Counts()
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 0, inProgress)
}

func TestReporterStartStop(t *testing.T) {
	var out bytes.Buffer
	r := NewReporter(Options{
		TotalFiles:     2,
		TotalSize:      512 * 1024,
		Concurrency:    2,
		Output:         &out,
		UpdateInterval: 10 * time.Millisecond,
		Source:         "https://cdn.example.com/game",
	})

	r.Start()
	r.Publish(Event{TaskID: "a", Phase: PhaseDownloading, Bytes: 256 * 1024})
	r.Publish(Event{TaskID: "a", Phase: PhaseDone})
	time.Sleep(50 * time.Millisecond)
	r.Stop()
	r.Stop()

	text := out.String()
	assert.Contains(t, text, "Synchronizing: https://cdn.example.com/game")
	assert.Contains(t, text, "Files: 1 done | 0 failed")
	assert.True(t, strings.Contains(text, "Total time:"))
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	s := NewChannelSink(1)
	s.Publish(Event{TaskID: "a"})
	s.Publish(Event{TaskID: "b"})

	require.Len(t, s.Events(), 1)
	assert.Equal(t, "a", (<-s.Events()).TaskID)
	assert.Equal(t, int64(1), s.Dropped())
}

func TestMulti(t *testing.T) {
	var got []string
	sink := Multi(Discard, SinkFunc(func(e Event) { got = append(got, e.Name) }))
	sink.Publish(Event{Name: "x"})
	assert.Equal(t, []string{"x"}, got)
}

func TestThrottle(t *testing.T) {
	th := Throttle{Interval: 200 * time.Millisecond}
	now := time.Now()

	assert.True(t, th.Allow(now))
	assert.False(t, th.Allow(now.Add(100*time.Millisecond)))
	assert.True(t, th.Allow(now.Add(201*time.Millisecond)))
}
