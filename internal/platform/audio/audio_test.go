package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCueFor(t *testing.T) {
	for _, sev := range []string{"info", "success", "warning", "error"} {
		c := CueFor(sev)
		if c.Name != sev || len(c.Tones) == 0 {
			t.Errorf("CueFor(%q) = %+v", sev, c)
		}
	}
	if CueFor("critical").Name != "info" {
		t.Error("unknown severity should fall back to info")
	}
}

func TestSynthesize_LengthAndRange(t *testing.T) {
	c := CueFor("error")
	samples := Synthesize(c, 8000)

	want := int(c.Tones[0].Duration.Seconds()*8000) + int(c.Tones[1].Duration.Seconds()*8000)
	if len(samples) != want {
		t.Fatalf("expected %d samples, got %d", want, len(samples))
	}

	const limit = 8193 // 0.25 gain, rounded up
	for i, s := range samples {
		if s > limit || s < -limit {
			t.Fatalf("sample %d = %d exceeds gain", i, s)
		}
	}
	if samples[0] != 0 {
		t.Errorf("expected attack to start at silence, got %d", samples[0])
	}
}

func TestSynthesize_Decays(t *testing.T) {
	c := Cue{Name: "t", Tones: []Tone{{Frequency: 100, Duration: 100 * time.Millisecond, Waveform: Square, Gain: 1}}}
	samples := Synthesize(c, 10000)
	early, late := samples[200], samples[len(samples)-1]
	if abs(late) >= abs(early) {
		t.Errorf("expected envelope to decay: early %d late %d", early, late)
	}
}

func abs(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}

func TestOscillate(t *testing.T) {
	tests := []struct {
		w     Waveform
		phase float64
		want  float64
	}{
		{Sine, 0.25, 1},
		{Square, 0.1, 1},
		{Square, 0.6, -1},
		{Triangle, 0.5, 1},
		{Triangle, 0, -1},
	}
	for _, tt := range tests {
		got := oscillate(tt.w, tt.phase)
		if got < tt.want-1e-9 || got > tt.want+1e-9 {
			t.Errorf("oscillate(%s, %v) = %v, want %v", tt.w, tt.phase, got, tt.want)
		}
	}
}

func TestEncodeWAV_Header(t *testing.T) {
	var buf bytes.Buffer
	samples := []int16{0, 100, -100, 0}
	if err := EncodeWAV(&buf, samples, 8000); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	if len(data) != 44+len(samples)*2 {
		t.Fatalf("expected %d bytes, got %d", 44+len(samples)*2, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q", data[:40])
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 8000 {
		t.Errorf("expected sample rate 8000, got %d", rate)
	}
	if size := binary.LittleEndian.Uint32(data[40:44]); size != 8 {
		t.Errorf("expected data size 8, got %d", size)
	}
}

func TestFilePlayer_WritesCue(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cues")
	p, err := NewFilePlayer(dir, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Play(context.Background(), CueFor("success")); err != nil {
		t.Fatalf("Play: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || filepath.Ext(entries[0].Name()) != ".wav" {
		t.Fatalf("expected one wav file, got %v", entries)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Play(ctx, CueFor("info")); err == nil {
		t.Error("expected cancelled context to fail")
	}
}
