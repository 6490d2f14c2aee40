package uploads

import (
	"encoding/binary"
	"io"
	"strings"
)

// probeAudioDuration returns the duration of a WAV stream in seconds.
// Best effort: anything unparseable, or any other audio container, yields
// nil and the record keeps whatever the client reported.
func probeAudioDuration(r io.Reader, mimeType string) *float64 {
	mt := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	switch mt {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
	default:
		return nil
	}

	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil
	}

	// Walk chunks until data; fmt carries the byte rate. Chunk bodies are
	// word-aligned.
	var byteRate uint32
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil
		}
		size := binary.LittleEndian.Uint32(hdr[4:8])
		switch string(hdr[0:4]) {
		case "fmt ":
			if size < 16 {
				return nil
			}
			var body [16]byte
			if _, err := io.ReadFull(r, body[:]); err != nil {
				return nil
			}
			byteRate = binary.LittleEndian.Uint32(body[8:12])
			if skip := int64(size) - 16 + int64(size%2); skip > 0 {
				if _, err := io.CopyN(io.Discard, r, skip); err != nil {
					return nil
				}
			}
		case "data":
			if byteRate == 0 {
				return nil
			}
			d := float64(size) / float64(byteRate)
			return &d
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)+int64(size%2)); err != nil {
				return nil
			}
		}
	}
}
