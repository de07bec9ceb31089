package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAV_Header(t *testing.T) {
	pcm := EncodePCM16([]float32{0, 0.5, -0.5, 1})

	wav, err := EncodeWAV(pcm, 48000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(wav) != wavHeaderSize+len(pcm) {
		t.Fatalf("Expected %d bytes, got %d", wavHeaderSize+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Error("Missing RIFF/WAVE/data markers")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 48000 {
		t.Errorf("Expected sample rate 48000, got %d", rate)
	}
	if byteRate := binary.LittleEndian.Uint32(wav[28:32]); byteRate != 96000 {
		t.Errorf("Expected byte rate 96000, got %d", byteRate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); int(size) != len(pcm) {
		t.Errorf("Expected data size %d, got %d", len(pcm), size)
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	pcm := EncodePCM16([]float32{0.1, -0.2, 0.3, -0.4, 0.5})

	wav, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, rate, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}
	if !bytes.Equal(decoded, pcm) {
		t.Error("Decoded PCM does not match input")
	}
}

func TestEncodeWAV_Errors(t *testing.T) {
	if _, err := EncodeWAV([]byte{1, 2}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
	if _, err := EncodeWAV([]byte{1, 2, 3}, 8000); err == nil {
		t.Error("Expected error for odd-length PCM")
	}
}

func TestDecodeWAV_Errors(t *testing.T) {
	tests := []struct {
		name string
		data func() []byte
	}{
		{"too short", func() []byte { return []byte("RIFF") }},
		{"bad magic", func() []byte {
			wav, _ := EncodeWAV([]byte{0, 0}, 8000)
			copy(wav[0:4], "RIFX")
			return wav
		}},
		{"truncated data", func() []byte {
			wav, _ := EncodeWAV([]byte{0, 0, 0, 0}, 8000)
			return wav[:len(wav)-2]
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data()); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestRecording_WAV(t *testing.T) {
	recording := NewRecording(EncodePCM16([]float32{0.25, 0.25}), 8000)

	wav, err := recording.WAV()
	if err != nil {
		t.Fatalf("WAV failed: %v", err)
	}
	pcm, _, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if !bytes.Equal(pcm, recording.Bytes()) {
		t.Error("WAV payload does not match recording")
	}
}
