// Package sink abstracts the fixed-format hardware audio output the
// buffered engine writes raw PCM chunks to.
package sink

import "errors"

// ErrClosed is returned by writes to a closed sink.
var ErrClosed = errors.New("sink: closed")

// Sink accepts raw little-endian S16 PCM at a fixed sample rate and
// channel count. Write blocks until the device has consumed the chunk,
// which is what paces the playback-writer loop.
type Sink interface {
	// Write pushes one chunk of PCM bytes to the device. A returned
	// error indicates a device or driver fault; callers may retry once
	// after reopening the sink.
	Write(p []byte) error

	// Flush discards anything the device still has buffered. Called on
	// stop so the driver does not replay stale samples or underrun.
	Flush() error

	// Close releases the device handle.
	Close() error
}

// Opener creates a fresh Sink. The buffered engine holds an Opener
// rather than a Sink so it can fully reinitialize the device after a
// write failure.
type Opener func() (Sink, error)

// Format describes the fixed output format. The source medium is
// always 16-bit stereo 44.1kHz PCM, so these only vary in tests.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// BytesPerSecond returns the PCM byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitDepth / 8
}

// FrameSize returns the size in bytes of one sample frame.
func (f Format) FrameSize() int {
	return f.Channels * f.BitDepth / 8
}

// CDFormat is the fixed disc audio format.
var CDFormat = Format{SampleRate: 44100, Channels: 2, BitDepth: 16}
