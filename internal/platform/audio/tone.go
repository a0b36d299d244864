// Package audio generates the short notification cues. Tones are
// synthesised from basic waveforms; there are no audio assets.
package audio

import (
	"fmt"
	"math"
	"time"
)

const DefaultSampleRate = 22050

// Waveform is the oscillator shape of a Tone.
type Waveform int

const (
	Sine Waveform = iota
	Square
	Triangle
)

func (w Waveform) String() string {
	switch w {
	case Sine:
		return "sine"
	case Square:
		return "square"
	case Triangle:
		return "triangle"
	default:
		return fmt.Sprintf("waveform(%d)", int(w))
	}
}

// Tone is one note. Gain is the peak amplitude in [0,1]; the note decays
// exponentially to silence over Duration.
type Tone struct {
	Frequency float64
	Duration  time.Duration
	Waveform  Waveform
	Gain      float64
}

// Cue is a sequence of tones played back to back.
type Cue struct {
	Name  string
	Tones []Tone
}

// Duration is the total length of the cue.
func (c Cue) Duration() time.Duration {
	var d time.Duration
	for _, t := range c.Tones {
		d += t.Duration
	}
	return d
}

var cues = map[string]Cue{
	"info": {Name: "info", Tones: []Tone{
		{Frequency: 880, Duration: 120 * time.Millisecond, Waveform: Sine, Gain: 0.3},
	}},
	"success": {Name: "success", Tones: []Tone{
		{Frequency: 523.25, Duration: 100 * time.Millisecond, Waveform: Sine, Gain: 0.3},
		{Frequency: 659.25, Duration: 100 * time.Millisecond, Waveform: Sine, Gain: 0.3},
		{Frequency: 783.99, Duration: 160 * time.Millisecond, Waveform: Sine, Gain: 0.3},
	}},
	"warning": {Name: "warning", Tones: []Tone{
		{Frequency: 660, Duration: 150 * time.Millisecond, Waveform: Triangle, Gain: 0.4},
		{Frequency: 660, Duration: 150 * time.Millisecond, Waveform: Triangle, Gain: 0.4},
	}},
	"error": {Name: "error", Tones: []Tone{
		{Frequency: 330, Duration: 180 * time.Millisecond, Waveform: Square, Gain: 0.25},
		{Frequency: 220, Duration: 260 * time.Millisecond, Waveform: Square, Gain: 0.25},
	}},
}

// CueFor returns the cue for a notification severity. Unknown severities
// get the info cue.
func CueFor(severity string) Cue {
	if c, ok := cues[severity]; ok {
		return c
	}
	return cues["info"]
}

// Synthesize renders the cue as signed 16-bit mono PCM.
func Synthesize(c Cue, sampleRate int) []int16 {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	var out []int16
	for _, t := range c.Tones {
		out = append(out, render(t, sampleRate)...)
	}
	return out
}

// floor is the amplitude the envelope decays to at the end of a note.
const floor = 0.01

func render(t Tone, sampleRate int) []int16 {
	n := int(t.Duration.Seconds() * float64(sampleRate))
	if n <= 0 {
		return nil
	}
	gain := math.Max(0, math.Min(1, t.Gain))
	decay := math.Log(floor) / float64(n)
	attack := sampleRate / 200 // 5ms

	samples := make([]int16, n)
	for i := range samples {
		phase := math.Mod(t.Frequency*float64(i)/float64(sampleRate), 1)
		env := gain * math.Exp(decay*float64(i))
		if i < attack {
			env *= float64(i) / float64(attack)
		}
		samples[i] = int16(math.Round(oscillate(t.Waveform, phase) * env * math.MaxInt16))
	}
	return samples
}

// oscillate returns the waveform value in [-1,1] at phase in [0,1).
func oscillate(w Waveform, phase float64) float64 {
	switch w {
	case Square:
		if phase < 0.5 {
			return 1
		}
		return -1
	case Triangle:
		return 1 - 4*math.Abs(phase-0.5)
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}
