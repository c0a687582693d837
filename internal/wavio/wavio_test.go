package wavio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAndInspect(t *testing.T) {
	pcm := make([]byte, 320)
	for i := 0; i < len(pcm); i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:], uint16(i*7))
	}
	path := filepath.Join(t.TempDir(), "out.wav")

	if err := WriteFile(path, pcm, 16000, 1); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.SampleRate != 16000 {
		t.Fatalf("sample rate %d", info.SampleRate)
	}
	if info.Channels != 1 {
		t.Fatalf("channels %d", info.Channels)
	}
	if info.BitDepth != 16 {
		t.Fatalf("bit depth %d", info.BitDepth)
	}
	if info.DataBytes != len(pcm) {
		t.Fatalf("expected %d data bytes, got %d", len(pcm), info.DataBytes)
	}
}

func TestHeaderLayout(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04, 0x00}
	path := filepath.Join(t.TempDir(), "header.wav")
	if err := WriteFile(path, pcm, 16000, 1); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(data) != 44+len(pcm) {
		t.Fatalf("expected 44-byte header plus payload, got %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("bad container magic %q %q", data[0:4], data[8:12])
	}
	if string(data[12:16]) != "fmt " {
		t.Fatalf("bad fmt chunk id %q", data[12:16])
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != uint32(len(pcm)+36) {
		t.Fatalf("riff size %d, want %d", got, len(pcm)+36)
	}
	if got := binary.LittleEndian.Uint16(data[20:22]); got != 1 {
		t.Fatalf("audio format %d, want PCM(1)", got)
	}
	if got := binary.LittleEndian.Uint16(data[22:24]); got != 1 {
		t.Fatalf("channels %d", got)
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 16000 {
		t.Fatalf("sample rate %d", got)
	}
	if got := binary.LittleEndian.Uint32(data[28:32]); got != 32000 {
		t.Fatalf("byte rate %d", got)
	}
	if got := binary.LittleEndian.Uint16(data[32:34]); got != 2 {
		t.Fatalf("block align %d", got)
	}
	if got := binary.LittleEndian.Uint16(data[34:36]); got != 16 {
		t.Fatalf("bits per sample %d", got)
	}
	if string(data[36:40]) != "data" {
		t.Fatalf("bad data chunk id %q", data[36:40])
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data length %d, want %d", got, len(pcm))
	}
}

func TestOddPayloadRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odd.wav")
	if err := WriteFile(path, []byte{0x01}, 16000, 1); err == nil {
		t.Fatalf("expected error for unaligned payload")
	}
}
