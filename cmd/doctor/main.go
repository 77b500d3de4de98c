// Command doctor records a short capture from a real input device to a .wav
// file, so an operator can inspect it before running the server or client
// proper. It is the direct descendant of original_source/udp_buffer_tester.py's
// manual calibration script, reworked around internal/audiodevice instead of
// hand-rolled socket probing.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/arlowe/soundbridge/internal/audioconfig"
	"github.com/arlowe/soundbridge/internal/audiodevice"
)

func main() {
	flags := pflag.NewFlagSet("doctor", pflag.ExitOnError)
	outputPath := flags.String("out", "doctor-capture.wav", "Path to write the captured .wav file.")
	duration := flags.Duration("duration", 3*time.Second, "How long to capture.")
	sampleRate := flags.Int("samplerate", 48000, "Capture sample rate.")
	channels := flags.Int("channels", 1, "Capture channel count.")
	framesPerChunk := flags.Int("framesperchunk", 32, "Frames read per capture chunk.")
	flags.Parse(os.Args[1:])

	device, err := audiodevice.NewPortAudioDevice()
	if err != nil {
		fmt.Fprintln(os.Stderr, "soundbridge-doctor: open audio interface:", err)
		os.Exit(1)
	}
	defer device.Close()

	info, err := device.DefaultInputDevice()
	if err != nil {
		fmt.Fprintln(os.Stderr, "soundbridge-doctor: default input device:", err)
		os.Exit(1)
	}
	fmt.Printf("capturing from %q (host API %s) for %s\n", info.Name, info.HostAPI, *duration)

	cfg := audioconfig.Config{
		SampleRate:     *sampleRate,
		Channels:       *channels,
		AudioDtype:     audioconfig.Int16LE,
		FramesPerChunk: *framesPerChunk,
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "soundbridge-doctor: invalid capture config:", err)
		os.Exit(1)
	}

	in, err := device.OpenInputStream(info, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "soundbridge-doctor: open input stream:", err)
		os.Exit(1)
	}
	defer in.Close()

	sink := &audiodevice.WAVFileDevice{OutputPath: *outputPath}
	sinkInfo, err := sink.DefaultOutputDevice()
	if err != nil {
		fmt.Fprintln(os.Stderr, "soundbridge-doctor: wav sink:", err)
		os.Exit(1)
	}
	out, err := sink.OpenOutputStream(sinkInfo, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "soundbridge-doctor: open wav output:", err)
		os.Exit(1)
	}

	deadline := time.Now().Add(*duration)
	for time.Now().Before(deadline) {
		chunk, err := in.Read(cfg.FramesPerChunk)
		if err != nil {
			fmt.Fprintln(os.Stderr, "soundbridge-doctor: capture read failed:", err)
			continue
		}
		if err := out.Write(chunk); err != nil {
			fmt.Fprintln(os.Stderr, "soundbridge-doctor: wav write failed:", err)
		}
	}

	if err := out.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "soundbridge-doctor: finalize wav file:", err)
		os.Exit(1)
	}
	fmt.Println("wrote", *outputPath)
}
