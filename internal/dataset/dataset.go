// Package dataset reads and writes captured recordings as msgpack
// blobs, one five-channel signal plus its capture parameters per file.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/teslashibe/go-tdoa/internal/geometry"
)

// FileExt is the extension used for recording files.
const FileExt = ".mpk"

var (
	ErrChannelCount  = errors.New("dataset: recording must have 5 channels")
	ErrUnevenLengths = errors.New("dataset: channels must be equal length")
	ErrEmpty         = errors.New("dataset: recording has no samples")
)

// Recording is one captured multichannel signal. Data holds one slice
// per microphone, all the same length.
type Recording struct {
	SampleRate int         `msgpack:"sample_rate"`
	RangeCode  int         `msgpack:"range_code"`
	Label      string      `msgpack:"label,omitempty"`
	CapturedAt time.Time   `msgpack:"captured_at"`
	Data       [][]float64 `msgpack:"data"`
}

// Validate checks the recording shape.
func (r *Recording) Validate() error {
	if len(r.Data) != geometry.MicCount {
		return fmt.Errorf("%w: got %d", ErrChannelCount, len(r.Data))
	}
	n := len(r.Data[0])
	if n == 0 {
		return ErrEmpty
	}
	for i, ch := range r.Data {
		if len(ch) != n {
			return fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d",
				ErrUnevenLengths, i, len(ch), n)
		}
	}
	if r.SampleRate <= 0 {
		return fmt.Errorf("dataset: invalid sample rate %d", r.SampleRate)
	}
	return nil
}

// Samples returns the per-channel sample count.
func (r *Recording) Samples() int {
	if len(r.Data) == 0 {
		return 0
	}
	return len(r.Data[0])
}

// Duration returns the recording length.
func (r *Recording) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(r.Samples()) * time.Second / time.Duration(r.SampleRate)
}

// FromInterleaved builds a recording from an interleaved capture
// buffer, keeping the first geometry.MicCount of channels.
func FromInterleaved(buf []float64, channels, sampleRate int) (*Recording, error) {
	if channels < geometry.MicCount {
		return nil, fmt.Errorf("%w: capture has %d", ErrChannelCount, channels)
	}
	if len(buf) == 0 || len(buf)%channels != 0 {
		return nil, fmt.Errorf("dataset: buffer length %d not a multiple of %d channels",
			len(buf), channels)
	}

	n := len(buf) / channels
	data := make([][]float64, geometry.MicCount)
	for i := range data {
		data[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			data[i][j] = buf[j*channels+i]
		}
	}

	return &Recording{
		SampleRate: sampleRate,
		CapturedAt: time.Now(),
		Data:       data,
	}, nil
}

// Save writes the recording to path, creating parent directories as
// needed.
func Save(path string, rec *Recording) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("dataset: create directory: %w", err)
	}

	blob, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("dataset: encode: %w", err)
	}

	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("dataset: write %s: %w", path, err)
	}
	return nil
}

// Load reads and validates a recording from path.
func Load(path string) (*Recording, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read %s: %w", path, err)
	}

	var rec Recording
	if err := msgpack.Unmarshal(blob, &rec); err != nil {
		return nil, fmt.Errorf("dataset: decode %s: %w", path, err)
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}
