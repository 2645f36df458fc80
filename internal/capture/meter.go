package capture

import (
	"context"
	"math"
	"time"

	"github.com/valet-labs/valet/pkg/speech"
)

// meterLoop consumes PCM frames from the metering stream and publishes the
// most recent normalized level at the configured cadence. It exits when the
// session context ends or the stream closes, so no level callback fires once
// the session leaves Listening.
func (c *Controller) meterLoop(ctx context.Context, stream speech.MeterStream) {
	ticker := time.NewTicker(c.cfg.MeterInterval)
	defer ticker.Stop()

	var level float64
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-stream.Frames():
			if !ok {
				return
			}
			level = Level(frame)
		case <-ticker.C:
			if c.cfg.OnLevel != nil {
				c.cfg.OnLevel(level)
			}
		}
	}
}

// Level computes the RMS energy of a 16-bit PCM frame normalized to [0,1].
// An empty frame has zero level.
func Level(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum/float64(len(frame))) / math.MaxInt16
	return math.Min(rms, 1)
}
