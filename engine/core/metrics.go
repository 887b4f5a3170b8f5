package core

import "sync"

const AVG_COUNT uint8 = 30

type MetricsState struct {
	mu                 sync.Mutex
	FrameAVGCounter    uint8
	MStimes            [AVG_COUNT]float64
	MSavg              float64
	Frames             int32
	AccumulatedFrameMS float64
	FPS                float64

	FramesDrawn     uint64
	FramesSkipped   uint64
	Recreations     uint64
	LastDrawCount   int
	LastRecordChunk int
}

var onceMetrics sync.Once
var metricsState *MetricsState = nil

func MetricsInitialize() error {
	onceMetrics.Do(func() {
		metricsState = &MetricsState{}
	})
	return nil
}

func MetricsUpdate(frameElapsedTime float64) {
	MetricsInitialize()
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()

	// Calculate frame ms average
	frameMS := frameElapsedTime * 1000.0
	metricsState.MStimes[metricsState.FrameAVGCounter] = frameMS
	if metricsState.FrameAVGCounter == AVG_COUNT-1 {
		metricsState.MSavg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			metricsState.MSavg += metricsState.MStimes[i]
		}
		metricsState.MSavg /= float64(AVG_COUNT)
	}
	metricsState.FrameAVGCounter++
	metricsState.FrameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	metricsState.AccumulatedFrameMS += frameMS
	if metricsState.AccumulatedFrameMS > 1000 {
		metricsState.FPS = float64(metricsState.Frames)
		metricsState.AccumulatedFrameMS -= 1000
		metricsState.Frames = 0
	}

	// Count all Frames.
	metricsState.Frames++
}

// MetricsFrameDrawn records a presented frame with its draw and chunk counts.
func MetricsFrameDrawn(draws, chunks int) {
	MetricsInitialize()
	metricsState.mu.Lock()
	metricsState.FramesDrawn++
	metricsState.LastDrawCount = draws
	metricsState.LastRecordChunk = chunks
	metricsState.mu.Unlock()
}

func MetricsFrameSkipped() {
	MetricsInitialize()
	metricsState.mu.Lock()
	metricsState.FramesSkipped++
	metricsState.mu.Unlock()
}

func MetricsSwapchainRecreated() {
	MetricsInitialize()
	metricsState.mu.Lock()
	metricsState.Recreations++
	metricsState.mu.Unlock()
}

func MetricsFPS() float64 {
	MetricsInitialize()
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	return metricsState.FPS
}

func MetricsFrameTime() float64 {
	MetricsInitialize()
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	return metricsState.MSavg
}

// MetricsCounters returns frames drawn, frames skipped and swapchain recreations.
func MetricsCounters() (uint64, uint64, uint64) {
	MetricsInitialize()
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	return metricsState.FramesDrawn, metricsState.FramesSkipped, metricsState.Recreations
}
