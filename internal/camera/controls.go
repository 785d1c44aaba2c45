package camera

import "time"

// Controls fixes every automatic camera behavior so that frame timing
// is driven entirely by the external trigger. Exposure follows the
// 180° shutter rule at the maximum framerate.
type Controls struct {
	// FrameDurationMin/Max bound the frame interval in nanoseconds.
	// Equal values pin the framerate.
	FrameDurationMin time.Duration
	FrameDurationMax time.Duration

	AutoExposure bool
	// ExposureTime is the fixed exposure, used when AutoExposure is
	// false.
	ExposureTime time.Duration

	AutoFocus bool
	// LensPosition is the reciprocal of the focus distance in
	// meters; 3.33 focuses at ~12 inches.
	LensPosition float64

	AutoWhiteBalance bool
	AnalogueGain     float64
	HDR              bool
	StatsOutput      bool
}

// DefaultControls returns the fixed capture controls for the given
// frame interval bounds.
func DefaultControls(frameDurationMin, frameDurationMax time.Duration) Controls {
	return Controls{
		FrameDurationMin: frameDurationMin,
		FrameDurationMax: frameDurationMax,
		AutoExposure:     false,
		ExposureTime:     frameDurationMin,
		AutoFocus:        false,
		LensPosition:     3.33,
		AutoWhiteBalance: false,
		AnalogueGain:     1.0,
		HDR:              false,
		StatsOutput:      false,
	}
}
