package sink

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Host library init is process-wide and refcounted here so that
// reopening a sink after a device fault does not tear down portaudio
// under another stream.
var (
	hostMu   sync.Mutex
	hostRefs int
)

func hostAcquire() error {
	hostMu.Lock()
	defer hostMu.Unlock()
	if hostRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return err
		}
	}
	hostRefs++
	return nil
}

func hostRelease() {
	hostMu.Lock()
	defer hostMu.Unlock()
	if hostRefs == 0 {
		return
	}
	hostRefs--
	if hostRefs == 0 {
		_ = portaudio.Terminate()
	}
}

// PortAudio writes fixed-format PCM to the default output device.
type PortAudio struct {
	format Format
	frames int
	buf    []int16
	stream *portaudio.Stream
	closed bool
}

// OpenPortAudio opens the default output stream for the given format.
// framesPerBuffer sets the device period size in sample frames.
func OpenPortAudio(format Format, framesPerBuffer int) (*PortAudio, error) {
	if err := hostAcquire(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	p := &PortAudio{
		format: format,
		frames: framesPerBuffer,
		buf:    make([]int16, framesPerBuffer*format.Channels),
	}

	stream, err := portaudio.OpenDefaultStream(
		0,
		format.Channels,
		float64(format.SampleRate),
		framesPerBuffer,
		p.buf,
	)
	if err != nil {
		hostRelease()
		return nil, fmt.Errorf("portaudio open: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		hostRelease()
		return nil, fmt.Errorf("portaudio start: %w", err)
	}

	p.stream = stream
	return p, nil
}

// Write converts the little-endian S16 chunk to int16 frames and
// pushes it through the device buffer, blocking per period.
func (p *PortAudio) Write(data []byte) error {
	if p.closed {
		return ErrClosed
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}

	for len(samples) > 0 {
		n := copy(p.buf, samples)
		samples = samples[n:]
		// Zero-pad a short final period so stale samples are not
		// replayed.
		for i := n; i < len(p.buf); i++ {
			p.buf[i] = 0
		}
		if err := p.stream.Write(); err != nil {
			return fmt.Errorf("portaudio write: %w", err)
		}
	}
	return nil
}

// Flush drops whatever the device still holds by restarting the
// stream. Losing up to one period of audio on stop is intentional.
func (p *PortAudio) Flush() error {
	if p.closed {
		return ErrClosed
	}
	if err := p.stream.Abort(); err != nil {
		return fmt.Errorf("portaudio abort: %w", err)
	}
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("portaudio restart: %w", err)
	}
	return nil
}

// Close stops the stream and releases the host library reference.
func (p *PortAudio) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.stream.Close()
	hostRelease()
	return err
}

// Verify PortAudio implements Sink at compile time.
var _ Sink = (*PortAudio)(nil)
