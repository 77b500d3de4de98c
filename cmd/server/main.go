// Command server runs SoundBridge's server-side endpoint (spec.md §3): it
// shares the host's default input and output devices, answers control-channel
// config requests, and reacts to default-device changes via a monitor child
// process (spec.md §4.5).
//
// Invoked normally, it is the server. Invoked with the hidden --reload-monitor
// flag, the very same binary re-execs itself as the monitor child: this is
// how spec.md §4.5's "separate OS process" requirement is met without a
// second compiled artifact.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/arlowe/soundbridge/internal/audioconfig"
	"github.com/arlowe/soundbridge/internal/audiodevice"
	"github.com/arlowe/soundbridge/internal/config"
	"github.com/arlowe/soundbridge/internal/reload"
	"github.com/arlowe/soundbridge/internal/server"
)

func main() {
	flags := pflag.NewFlagSet("server", pflag.ExitOnError)
	configFilePath := flags.String("configfile", "", "Path to an optional YAML config file.")
	reloadMonitor := flags.Bool("reload-monitor", false, "internal: run as the device-change monitor child process")
	flags.MarkHidden("reload-monitor")
	flags.Parse(os.Args[1:])

	if *reloadMonitor {
		runMonitorChild()
		return
	}

	if err := config.Load(*configFilePath, flags); err != nil {
		fmt.Fprintln(os.Stderr, "soundbridge-server: load config:", err)
		os.Exit(1)
	}
	logFile, err := config.ConfigureLogger(viper.GetString("loglevel"), viper.GetString("logfile"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "soundbridge-server: configure logger:", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	opts := server.Options{
		DataAddr:       fmt.Sprintf("%s:%d", viper.GetString("serverhost"), viper.GetInt("dataport")),
		ControlAddr:    fmt.Sprintf("%s:%d", viper.GetString("serverhost"), viper.GetInt("controlport")),
		FramesPerChunk: viper.GetInt("framesperchunk"),
		AudioDtype:     audioconfig.Dtype(viper.GetInt("audiodtype")),
		NewDevice: func() (audiodevice.Device, error) {
			return audiodevice.NewPortAudioDevice()
		},
	}

	s, err := server.New(opts)
	if err != nil {
		slog.Error("failed to start server", "err", err)
		os.Exit(1)
	}
	s.Start()

	selfPath, err := os.Executable()
	if err != nil {
		slog.Warn("could not resolve executable path, device-change monitor disabled", "err", err)
	} else if err := s.StartReload(selfPath, "--reload-monitor"); err != nil {
		slog.Warn("failed to start device-change monitor", "err", err)
	}

	slog.Info("soundbridge server running", "dataAddr", opts.DataAddr, "controlAddr", opts.ControlAddr)
	waitForStdinEOFOrNewline()

	slog.Info("shutting down")
	s.Stop()
}

// waitForStdinEOFOrNewline implements spec.md §6's CLI surface: the server
// exits on stdin EOF or at the end of the first line read.
func waitForStdinEOFOrNewline() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
}

func runMonitorChild() {
	err := reload.RunMonitorChild(os.Stdout, func() (audiodevice.Device, error) {
		return audiodevice.NewPortAudioDevice()
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "soundbridge-server monitor:", err)
		os.Exit(1)
	}
}
