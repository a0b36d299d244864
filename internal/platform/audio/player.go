package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Player plays a cue. Implementations must not block for longer than the
// cue itself.
type Player interface {
	Play(ctx context.Context, c Cue) error
}

// NopPlayer discards every cue.
type NopPlayer struct{}

func (NopPlayer) Play(context.Context, Cue) error { return nil }

// FilePlayer renders each cue to a WAV file in Dir. It is what headless
// deployments use in place of a sound device; another process can pick the
// files up.
type FilePlayer struct {
	Dir        string
	SampleRate int
	Logger     zerolog.Logger

	now func() time.Time
}

func NewFilePlayer(dir string, logger zerolog.Logger) (*FilePlayer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cue dir: %w", err)
	}
	return &FilePlayer{Dir: dir, SampleRate: DefaultSampleRate, Logger: logger, now: time.Now}, nil
}

func (p *FilePlayer) Play(ctx context.Context, c Cue) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := EncodeWAV(&buf, Synthesize(c, p.SampleRate), p.SampleRate); err != nil {
		return err
	}

	name := fmt.Sprintf("%s-%d.wav", c.Name, p.now().UnixNano())
	path := filepath.Join(p.Dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write cue: %w", err)
	}
	p.Logger.Debug().Str("cue", c.Name).Str("path", path).Dur("length", c.Duration()).Msg("cue rendered")
	return nil
}
