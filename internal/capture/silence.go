package capture

import (
	"sync"
	"time"
)

// Silence is an input device that produces zeroed frames in real time. It lets the
// pipeline run on machines without a microphone.
type Silence struct{}

func (Silence) Open(sampleRate, channels, framesPerBuffer int, fn FrameFunc) (Stream, error) {
	period := time.Duration(float64(framesPerBuffer) / float64(sampleRate) * float64(time.Second))
	if period <= 0 {
		period = time.Millisecond
	}
	return &silenceStream{
		fn:     fn,
		frame:  make([]int16, framesPerBuffer*channels),
		period: period,
		stop:   make(chan struct{}),
	}, nil
}

type silenceStream struct {
	fn       FrameFunc
	frame    []int16
	period   time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func (s *silenceStream) Start() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.fn(s.frame, "")
			}
		}
	}()
	return nil
}

func (s *silenceStream) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return nil
}

func (s *silenceStream) Close() error { return s.Stop() }
