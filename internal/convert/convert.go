// Package convert transcodes activity media files between FIT, TCX and
// GPX. Conversions are lossy by design: only positional samples survive,
// plus heart rate when the output is TCX (GPX output carries none). The
// sync engine treats this package's output as authoritative for the
// destination format.
package convert

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"fitsync/internal/platform"
)

// ErrUnsupportedConversion is returned for pairs outside the conversion
// table (nothing synthesizes FIT).
var ErrUnsupportedConversion = errors.New("unsupported conversion")

// Converter is the capability the file cache consumes.
type Converter interface {
	// Supports reports whether Convert can translate from one format to
	// another.
	Supports(from, to platform.Format) bool
	// Convert translates file bytes between formats.
	Convert(data []byte, from, to platform.Format) ([]byte, error)
}

// Transcoder is the concrete Converter.
type Transcoder struct{}

func New() *Transcoder { return &Transcoder{} }

func (t *Transcoder) Supports(from, to platform.Format) bool {
	if from == to {
		return true
	}
	switch from {
	case platform.FormatFIT:
		return to == platform.FormatGPX || to == platform.FormatTCX
	case platform.FormatTCX:
		return to == platform.FormatGPX
	}
	return false
}

func (t *Transcoder) Convert(data []byte, from, to platform.Format) ([]byte, error) {
	if from == to {
		return data, nil
	}
	if !t.Supports(from, to) {
		return nil, fmt.Errorf("%s to %s: %w", from, to, ErrUnsupportedConversion)
	}

	track, err := decode(data, from)
	if err != nil {
		return nil, err
	}

	switch to {
	case platform.FormatGPX:
		return encodeGPX(track)
	case platform.FormatTCX:
		return encodeTCX(track)
	}
	return nil, fmt.Errorf("%s to %s: %w", from, to, ErrUnsupportedConversion)
}

// track is the common in-memory shape all formats decode into.
type track struct {
	Name      string
	Sport     string
	StartTime time.Time
	Points    []point

	TotalDistance float64 // meters
	TotalDuration float64 // seconds
}

type point struct {
	Time      time.Time
	Lat, Lon  float64
	HasPos    bool
	Elevation float64
	HasEle    bool
	HeartRate int
	Distance  float64
}

func decode(data []byte, from platform.Format) (*track, error) {
	switch from {
	case platform.FormatFIT:
		return decodeFIT(data)
	case platform.FormatTCX:
		return decodeTCX(data)
	case platform.FormatGPX:
		return decodeGPX(data)
	}
	return nil, fmt.Errorf("decoding %s: %w", from, ErrUnsupportedConversion)
}

// SniffFormat guesses a file's format from its leading bytes.
func SniffFormat(data []byte) (platform.Format, bool) {
	head := data[:min(len(data), 512)]
	switch {
	case len(data) >= 12 && bytes.Equal(data[8:12], []byte(".FIT")):
		return platform.FormatFIT, true
	case bytes.Contains(head, []byte("<gpx")):
		return platform.FormatGPX, true
	case bytes.Contains(head, []byte("TrainingCenterDatabase")):
		return platform.FormatTCX, true
	}
	return "", false
}

// FileInfo summarizes a media file for `convert --info`.
type FileInfo struct {
	Format    platform.Format
	Sport     string
	StartTime time.Time
	Distance  float64
	Duration  float64
	Points    int
}

// Info decodes just enough of a file to describe it.
func Info(data []byte, format platform.Format) (*FileInfo, error) {
	track, err := decode(data, format)
	if err != nil {
		return nil, err
	}
	return &FileInfo{
		Format:    format,
		Sport:     track.Sport,
		StartTime: track.StartTime,
		Distance:  track.TotalDistance,
		Duration:  track.TotalDuration,
		Points:    len(track.Points),
	}, nil
}
