package worker

import (
	"fmt"

	"github.com/arlowe/soundbridge/internal/audioconfig"
	"github.com/arlowe/soundbridge/internal/audiodevice"
	"github.com/arlowe/soundbridge/internal/format"
	"github.com/arlowe/soundbridge/internal/queue"
)

// minServerOutputSampleRate is the floor spec.md §4.2 clamps a server's
// default output stream to; several common default devices misbehave (pop,
// crackle) when opened below this rate.
const minServerOutputSampleRate = 48000

// NewServerMicrophone builds the Sender that captures the server's default
// input device at its own native rate/channels — the server's microphone is
// never resampled to match the negotiated config, since it IS the config
// (spec.md §4.1: the server's capture device defines the mic AudioConfig).
func NewServerMicrophone(dev audiodevice.Device, cfg audioconfig.Config, out *queue.ChunkQueue) (*Sender, error) {
	info, err := dev.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("worker: server microphone: %w", err)
	}
	stream, err := dev.OpenInputStream(info, cfg)
	if err != nil {
		return nil, fmt.Errorf("worker: server microphone: %w", err)
	}
	return NewSender("server-microphone", stream, nil, out, cfg.FramesPerChunk), nil
}

// NewServerSpeaker builds the Receiver that plays the client's shared system
// audio out the server's default output device, clamping the device's
// opened sample rate to minServerOutputSampleRate and converting whenever
// the negotiated cfg disagrees with what the device was actually opened at.
func NewServerSpeaker(dev audiodevice.Device, cfg audioconfig.Config, in *queue.ChunkQueue) (*Receiver, error) {
	info, err := dev.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("worker: server speaker: %w", err)
	}

	deviceCfg := cfg
	if deviceCfg.SampleRate < minServerOutputSampleRate {
		deviceCfg.SampleRate = minServerOutputSampleRate
	}

	stream, err := dev.OpenOutputStream(info, deviceCfg)
	if err != nil {
		return nil, fmt.Errorf("worker: server speaker: %w", err)
	}

	var converter *format.Converter
	if deviceCfg != cfg {
		converter = format.New(cfg, deviceCfg)
	}
	return NewReceiver("server-speaker", stream, converter, in, deviceCfg.ChunkSize()), nil
}

// NewClientSpeaker builds the Sender that captures the client's loopback
// device (the system's "what you hear" output, matched by nameSubstring and
// hostAPI, spec.md §4.2) at its native config.
func NewClientSpeaker(dev audiodevice.Device, nameSubstring, hostAPI string, cfg audioconfig.Config, out *queue.ChunkQueue) (*Sender, error) {
	devices, err := dev.Devices()
	if err != nil {
		return nil, fmt.Errorf("worker: client speaker: %w", err)
	}
	info, err := audiodevice.FindByNameAndHostAPI(devices, nameSubstring, hostAPI)
	if err != nil {
		return nil, fmt.Errorf("worker: client speaker: %w", err)
	}
	stream, err := dev.OpenInputStream(info, cfg)
	if err != nil {
		return nil, fmt.Errorf("worker: client speaker: %w", err)
	}
	return NewSender("client-speaker", stream, nil, out, cfg.FramesPerChunk), nil
}

// NewClientMicrophone builds the Receiver that writes the server's shared
// microphone audio into the client's virtual audio cable (matched by
// nameSubstring and hostAPI), converting through internal/format whenever
// the cable's fixed properties disagree with the negotiated cfg.
func NewClientMicrophone(dev audiodevice.Device, nameSubstring, hostAPI string, cfg audioconfig.Config, in *queue.ChunkQueue) (*Receiver, error) {
	devices, err := dev.Devices()
	if err != nil {
		return nil, fmt.Errorf("worker: client microphone: %w", err)
	}
	info, err := audiodevice.FindByNameAndHostAPI(devices, nameSubstring, hostAPI)
	if err != nil {
		return nil, fmt.Errorf("worker: client microphone: %w", err)
	}

	cableCfg := cfg
	if info.DefaultSampleRate > 0 {
		cableCfg.SampleRate = info.DefaultSampleRate
	}
	if info.MaxOutputChannels > 0 {
		cableCfg.Channels = info.MaxOutputChannels
	}

	stream, err := dev.OpenOutputStream(info, cableCfg)
	if err != nil {
		return nil, fmt.Errorf("worker: client microphone: %w", err)
	}

	var converter *format.Converter
	if cableCfg != cfg {
		converter = format.New(cfg, cableCfg)
	}
	return NewReceiver("client-microphone", stream, converter, in, cableCfg.ChunkSize()), nil
}
