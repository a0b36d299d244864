package audio

import (
	"encoding/binary"
	"fmt"
	"io"
)

// EncodeWAV writes samples as a 16-bit mono PCM WAV file.
func EncodeWAV(w io.Writer, samples []int16, sampleRate int) error {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	dataLen := uint32(len(samples) * 2)
	blockAlign := uint16(channels * bitsPerSample / 8)

	header := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		36 + dataLen,
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16), // fmt chunk size
		uint16(1),  // PCM
		uint16(channels),
		uint32(sampleRate),
		uint32(sampleRate) * uint32(blockAlign),
		blockAlign,
		uint16(bitsPerSample),
		[4]byte{'d', 'a', 't', 'a'},
		dataLen,
	}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return fmt.Errorf("write wav header: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	return nil
}
