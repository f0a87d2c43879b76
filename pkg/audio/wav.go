package audio

import (
	"bytes"
	"encoding/binary"
)

// newWavBuffer builds a minimal 16-bit PCM WAV container around pcm.
func newWavBuffer(pcm []byte, sampleRate int, channels int) []byte {
	buf := new(bytes.Buffer)

	blockAlign := channels * 2
	byteRate := sampleRate * blockAlign

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))                // fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))                 // PCM format
	binary.Write(buf, binary.LittleEndian, uint16(channels))           // channels
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))         // sample rate
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))           // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))         // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))                 // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
