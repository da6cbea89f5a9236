package capture

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudio opens the system default input device.
type PortAudio struct{}

func NewPortAudio() *PortAudio { return &PortAudio{} }

func (PortAudio) Open(sampleRate, channels, framesPerBuffer int, fn FrameFunc) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	callback := func(in []int16, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		fn(in, statusFromFlags(flags))
	}
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), framesPerBuffer, callback)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open default input stream: %w", err)
	}
	return &paStream{stream: stream}, nil
}

type paStream struct {
	stream    *portaudio.Stream
	closeOnce sync.Once
	closeErr  error
}

func (s *paStream) Start() error { return s.stream.Start() }

// Stop waits for the in-flight callback to return.
func (s *paStream) Stop() error { return s.stream.Stop() }

func (s *paStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stream.Close()
		if err := portaudio.Terminate(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}

func statusFromFlags(flags portaudio.StreamCallbackFlags) Status {
	if flags == 0 {
		return ""
	}
	var parts []string
	if flags&portaudio.InputUnderflow != 0 {
		parts = append(parts, "input underflow")
	}
	if flags&portaudio.InputOverflow != 0 {
		parts = append(parts, "input overflow")
	}
	if len(parts) == 0 {
		return ""
	}
	return Status(strings.Join(parts, ", "))
}
