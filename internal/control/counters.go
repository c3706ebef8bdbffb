package control

import "sync"

// counters is the telemetry state shared by the event sink and the reporter.
type counters struct {
	mu                       sync.Mutex
	currentFrame             int32
	lossCountSinceLastReport int32
}

func (c *counters) setFrame(frameIndex int32) {
	c.mu.Lock()
	c.currentFrame = frameIndex
	c.mu.Unlock()
}

func (c *counters) addLoss(n int32) {
	c.mu.Lock()
	c.lossCountSinceLastReport += n
	c.mu.Unlock()
}

// takeReport returns the pending loss count and current frame, resetting the count.
func (c *counters) takeReport() (lost int32, frame int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lost = c.lossCountSinceLastReport
	c.lossCountSinceLastReport = 0
	return lost, c.currentFrame
}

func (c *counters) snapshot() (frame int32, pending int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentFrame, c.lossCountSinceLastReport
}
