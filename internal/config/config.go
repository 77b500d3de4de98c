// Package config layers SoundBridge's runtime configuration the way the
// teacher's cmd/config package does: code defaults, then an optional YAML
// file, then command-line flags, all through a single viper instance.
package config

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SetDefaults installs the code-level defaults for every setting SoundBridge
// reads from viper, mirroring spec.md §6's compile/deploy-time constants.
func SetDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")

	viper.SetDefault("serverhost", "0.0.0.0")
	viper.SetDefault("dataport", 2025)
	viper.SetDefault("controlport", 2026)

	viper.SetDefault("maxpacketsize", 1024)
	viper.SetDefault("sockettimeoutms", 1000)
	viper.SetDefault("audiodtype", 8) // Int16LE
	viper.SetDefault("framesperchunk", 32)
	viper.SetDefault("buffertimems", 200)

	viper.SetDefault("virtualcablename", "CABLE Input")
	viper.SetDefault("virtualcablehostapi", "MME")
	viper.SetDefault("loopbackname", "Stereo Mix")
	viper.SetDefault("loopbackhostapi", "MME")
}

// Load installs defaults, binds flags so CLI overrides win, then reads
// configFilePath if present (a missing file is not an error — spec.md's
// deployment model runs fine on defaults alone).
func Load(configFilePath string, flags *pflag.FlagSet) error {
	SetDefaults()

	if flags != nil {
		if err := viper.BindPFlags(flags); err != nil {
			return err
		}
	}

	if configFilePath == "" {
		return nil
	}
	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || errors.Is(err, fs.ErrNotExist) {
			slog.Info("no config file found, continuing on defaults", "configFilePath", configFilePath)
			return nil
		}
		return err
	}
	return nil
}
