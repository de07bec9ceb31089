package audio

// VADConfig holds configuration for voice activity detection on capture blocks
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceBlocks   int     // Consecutive quiet blocks that end an utterance
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceBlocks:   6, // ~0.5s at 4096 samples / 48kHz
	}
}

// Activity is the speech transition observed for one block.
type Activity int

const (
	ActivityNone Activity = iota
	ActivityStarted
	ActivityEnded
)

func (a Activity) String() string {
	switch a {
	case ActivityStarted:
		return "speech_started"
	case ActivityEnded:
		return "speech_ended"
	default:
		return "none"
	}
}

// VADDetector tracks speech/silence transitions across capture blocks.
// It is not safe for concurrent use; the capture loop owns it.
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// Process inspects one encoded frame and reports a transition, if any.
func (v *VADDetector) Process(frame Frame) Activity {
	samples, err := DecodePCM16(frame)
	if err != nil {
		return ActivityNone
	}
	return v.ProcessSamples(samples)
}

// ProcessSamples is Process on already decoded samples.
func (v *VADDetector) ProcessSamples(samples []int16) Activity {
	if CalculateRMS(samples) > v.config.EnergyThreshold {
		v.silenceCounter = 0
		if !v.isSpeaking {
			v.isSpeaking = true
			return ActivityStarted
		}
		return ActivityNone
	}

	v.silenceCounter++
	if v.isSpeaking && v.silenceCounter >= v.config.SilenceBlocks {
		v.isSpeaking = false
		v.silenceCounter = 0
		return ActivityEnded
	}
	return ActivityNone
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// DetectSilence detects if audio samples represent silence
func DetectSilence(samples []int16, threshold float64) bool {
	return CalculateRMS(samples) < threshold
}
