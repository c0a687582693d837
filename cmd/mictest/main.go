// mictest records a few seconds from the default microphone, writes
// the capture to a WAV file, and plays it back. Useful for verifying
// the audio path before starting the service.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goldieapp/speechbridge/internal/audio"
	"github.com/goldieapp/speechbridge/internal/wavio"
)

func main() {
	var (
		seconds    int
		sampleRate int
		outPath    string
		playback   bool
	)

	flag.IntVar(&seconds, "seconds", 3, "Recording duration in seconds")
	flag.IntVar(&sampleRate, "rate", 16000, "Capture sample rate in Hz")
	flag.StringVar(&outPath, "out", "mictest.wav", "Output WAV path")
	flag.BoolVar(&playback, "playback", true, "Play the recording back after capture")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	gateway := audio.NewPortAudio()

	const frame = 200 * time.Millisecond
	capture, err := gateway.OpenCapture(sampleRate, 1, frame)
	if err != nil {
		logger.Error("failed to open microphone", slog.String("error", err.Error()))
		os.Exit(1)
	}

	frames := int(time.Duration(seconds) * time.Second / frame)
	fmt.Printf("recording %d seconds...\n", seconds)
	var pcm []byte
	for i := 0; i < frames; i++ {
		data, err := capture.ReadFrame()
		if err != nil {
			logger.Warn("dropped frame", slog.String("error", err.Error()))
			continue
		}
		pcm = append(pcm, data...)
	}
	if err := capture.Close(); err != nil {
		logger.Warn("failed to close microphone", slog.String("error", err.Error()))
	}

	if len(pcm) == 0 {
		logger.Error("no audio captured")
		os.Exit(1)
	}

	if err := wavio.WriteFile(outPath, pcm, sampleRate, 1); err != nil {
		logger.Error("failed to write wav", slog.String("error", err.Error()))
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d bytes of audio)\n", outPath, len(pcm))

	if !playback {
		return
	}
	fmt.Println("playing back...")
	out, err := gateway.OpenPlayback(sampleRate, 1)
	if err != nil {
		logger.Error("failed to open playback device", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := out.Write(pcm); err != nil {
		logger.Warn("playback failed", slog.String("error", err.Error()))
	}
	if err := out.Close(); err != nil {
		logger.Warn("failed to close playback device", slog.String("error", err.Error()))
	}
	fmt.Println("done")
}
