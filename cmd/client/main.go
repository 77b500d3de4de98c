// Command client runs SoundBridge's client-side endpoint (spec.md §3): it
// shares its own captured system output with the server and plays the
// server's shared microphone audio out through a virtual audio cable,
// rebuilding itself around the server's configs whenever the control
// channel pushes STOP/START (spec.md §4.5).
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/arlowe/soundbridge/internal/audiodevice"
	"github.com/arlowe/soundbridge/internal/client"
	"github.com/arlowe/soundbridge/internal/config"
)

func main() {
	flags := pflag.NewFlagSet("client", pflag.ExitOnError)
	configFilePath := flags.String("configfile", "", "Path to an optional YAML config file.")
	serverHost := flags.String("server", "127.0.0.1", "Host the SoundBridge server runs on.")
	flags.Parse(os.Args[1:])

	if err := config.Load(*configFilePath, flags); err != nil {
		fmt.Fprintln(os.Stderr, "soundbridge-client: load config:", err)
		os.Exit(1)
	}
	logFile, err := config.ConfigureLogger(viper.GetString("loglevel"), viper.GetString("logfile"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "soundbridge-client: configure logger:", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	device, err := audiodevice.NewPortAudioDevice()
	if err != nil {
		slog.Error("failed to open audio interface", "err", err)
		os.Exit(1)
	}
	defer device.Close()

	opts := client.Options{
		LocalDataAddr:       ":0",
		ServerDataAddr:      fmt.Sprintf("%s:%d", *serverHost, viper.GetInt("dataport")),
		ServerControlAddr:   fmt.Sprintf("%s:%d", *serverHost, viper.GetInt("controlport")),
		Device:              device,
		LoopbackName:        viper.GetString("loopbackname"),
		LoopbackHostAPI:     viper.GetString("loopbackhostapi"),
		VirtualCableName:    viper.GetString("virtualcablename"),
		VirtualCableHostAPI: viper.GetString("virtualcablehostapi"),
	}

	session, err := client.NewSession(opts)
	if err != nil {
		slog.Error("failed to start control channel session", "err", err)
		os.Exit(1)
	}

	sessionErr := make(chan error, 1)
	go func() { sessionErr <- session.Run() }()

	slog.Info("soundbridge client running", "server", *serverHost)

	inputDone := make(chan struct{})
	go func() {
		runInputLoop(session)
		close(inputDone)
	}()

	select {
	case err := <-sessionErr:
		if err != nil {
			slog.Error("client session failed, exiting", "err", err)
			os.Exit(1)
		}
	case <-inputDone:
	}

	slog.Info("shutting down")
	if err := session.Stop(); err != nil {
		slog.Warn("error closing session", "err", err)
	}
}

// runInputLoop implements spec.md §6's client CLI surface: "m" sends
// TOGGLE_MICROPHONE, any other line (or EOF) terminates.
func runInputLoop(session *client.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if scanner.Text() != "m" {
			return
		}
		session.ToggleMicrophone()
	}
}
