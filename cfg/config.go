// Package cfg binds cratefs's command-line flags to a Config struct via
// viper, the way gcsfuse's own cfg package binds its (much larger) flag
// set. See DESIGN.md for the grounding of this package.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every flag cratefs accepts, populated by viper after
// BindFlags has registered them against a pflag.FlagSet.
type Config struct {
	FileSystem FileSystemConfig `mapstructure:"file-system"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Foreground bool             `mapstructure:"foreground"`
}

// FileSystemConfig controls inode ownership, mirroring gcsfuse's
// file-system.uid/gid flags. -1 means "use the current process's own
// uid/gid", the default.
type FileSystemConfig struct {
	Uid int `mapstructure:"uid"`
	Gid int `mapstructure:"gid"`
}

// LoggingConfig controls the structured logger's output format.
type LoggingConfig struct {
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the optional /metrics HTTP endpoint.
type MetricsConfig struct {
	// Addr is a loopback "host:port" to serve /metrics on. Empty
	// disables the endpoint entirely.
	Addr string `mapstructure:"addr"`
}

// BindFlags registers every flag cratefs accepts on flagSet and binds
// each to its viper key, following gcsfuse's BindFlags pattern of one
// flagSet.XP call followed by one viper.BindPFlag call per flag.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.IntP("uid", "", -1, "UID owner of all inodes; defaults to the current process's UID.")
	if err := viper.BindPFlag("file-system.uid", flagSet.Lookup("uid")); err != nil {
		return err
	}

	flagSet.IntP("gid", "", -1, "GID owner of all inodes; defaults to the current process's GID.")
	if err := viper.BindPFlag("file-system.gid", flagSet.Lookup("gid")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Log output format: text or json.")
	if err := viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.BoolP("foreground", "", false, "Stay attached to the terminal instead of treating the mount as detached.")
	if err := viper.BindPFlag("foreground", flagSet.Lookup("foreground")); err != nil {
		return err
	}

	flagSet.StringP("metrics-addr", "", "", "Loopback host:port to serve /metrics on; empty disables the endpoint.")
	if err := viper.BindPFlag("metrics.addr", flagSet.Lookup("metrics-addr")); err != nil {
		return err
	}

	return nil
}
