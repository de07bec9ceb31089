package tts

import (
	"context"
	"strings"
)

// DefaultVoice is used for languages without a mapped voice
const DefaultVoice = "en-US-JennyNeural"

// voices maps a base language code to its neural voice
var voices = map[string]string{
	"en": "en-US-JennyNeural",
	"hi": "hi-IN-SwaraNeural",
	"zh": "zh-CN-XiaoxiaoNeural",
}

// Speech is synthesized audio as returned by the speech service
type Speech struct {
	Audio       []byte
	ContentType string // e.g. "audio/mpeg"
	Voice       string
}

// Synthesizer converts text to speech in the given voice
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*Speech, error)
}

// NormalizeLang reduces a language tag to its lowercase base code,
// "fr-FR" becomes "fr". An empty tag is treated as "en".
func NormalizeLang(lang string) string {
	base, _, _ := strings.Cut(strings.TrimSpace(lang), "-")
	if base == "" {
		return "en"
	}
	return strings.ToLower(base)
}

// VoiceFor returns the voice for a language tag, or DefaultVoice
func VoiceFor(lang string) string {
	if v, ok := voices[NormalizeLang(lang)]; ok {
		return v
	}
	return DefaultVoice
}
