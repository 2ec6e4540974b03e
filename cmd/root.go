// Package cmd wires cratefs's command-line surface to the Tree Builder,
// Filesystem Protocol Handler, and Mount Driver. See DESIGN.md for the
// grounding of this package.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crate-fs/cratefs/cfg"
	"github.com/crate-fs/cratefs/fs"
	"github.com/crate-fs/cratefs/inode"
	"github.com/crate-fs/cratefs/logger"
	"github.com/crate-fs/cratefs/metrics"
	"github.com/crate-fs/cratefs/mount"
	"github.com/crate-fs/cratefs/tree"
)

var (
	bindErr     error
	MountConfig cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "cratefs [flags] source-dir mount-point",
	Short: "Mount a directory of .crate archives as a read-only file system",
	Long: `cratefs is a FUSE adapter that mounts the concatenation of the
.crate archives found directly under source-dir as a read-only file
system at mount-point.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if err := viper.Unmarshal(&MountConfig); err != nil {
			return fmt.Errorf("unmarshalling flags: %w", err)
		}
		return run(args[0], args[1], &MountConfig)
	},
}

func init() {
	bindErr = cfg.BindFlags(rootCmd.Flags())
}

// Execute runs the root command, exiting the process with status 1 on
// failure, matching the teacher's cmd.Execute.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(sourceDir, mountPoint string, c *cfg.Config) error {
	if !c.Foreground {
		logger.Warnf("cratefs: daemonizing is out of scope; running in the foreground regardless of --foreground=false")
	}
	logger.SetFormat(c.Logging.Format)

	owner, err := resolveOwner(c)
	if err != nil {
		return fmt.Errorf("resolving inode owner: %w", err)
	}

	rec := metrics.NewRecorder()

	table := inode.NewTable()
	if err := tree.Build(table, sourceDir, rec); err != nil {
		return fmt.Errorf("building tree from %q: %w", sourceDir, err)
	}
	if violations := table.CheckInvariants(); len(violations) > 0 {
		for _, v := range violations {
			logger.Errorf("invariant violation: %v", v)
		}
		panic(fmt.Sprintf("cratefs: %d invariant violation(s) detected after build", len(violations)))
	}

	if c.Metrics.Addr != "" {
		metricsSrv, err := metrics.Listen(c.Metrics.Addr, rec)
		if err != nil {
			return fmt.Errorf("starting metrics server on %q: %w", c.Metrics.Addr, err)
		}
		go metricsSrv.Serve()
		defer metricsSrv.Close(context.Background())
	}

	mfs, err := mount.Mount(table, mount.Config{MountPoint: mountPoint, Owner: owner, Metrics: rec})
	if err != nil {
		return fmt.Errorf("mounting at %q: %w", mountPoint, err)
	}

	registerSIGINTHandler(mfs.Dir())

	logger.Infof("cratefs mounted at %q (source %q)", mountPoint, sourceDir)
	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("mfs.Join: %w", err)
	}
	return nil
}

// resolveOwner honors --uid/--gid when set (>= 0), otherwise falls back
// to the current process's uid/gid.
func resolveOwner(c *cfg.Config) (fs.Owner, error) {
	uid, gid := c.FileSystem.Uid, c.FileSystem.Gid

	if uid >= 0 && gid >= 0 {
		return fs.Owner{Uid: uint32(uid), Gid: uint32(gid)}, nil
	}

	current, err := user.Current()
	if err != nil {
		return fs.Owner{}, fmt.Errorf("user.Current: %w", err)
	}
	procUid, err := strconv.ParseUint(current.Uid, 10, 32)
	if err != nil {
		return fs.Owner{}, fmt.Errorf("parsing current UID: %w", err)
	}
	procGid, err := strconv.ParseUint(current.Gid, 10, 32)
	if err != nil {
		return fs.Owner{}, fmt.Errorf("parsing current GID: %w", err)
	}

	owner := fs.Owner{Uid: uint32(procUid), Gid: uint32(procGid)}
	if uid >= 0 {
		owner.Uid = uint32(uid)
	}
	if gid >= 0 {
		owner.Gid = uint32(gid)
	}
	return owner, nil
}

// registerSIGINTHandler unmounts mountPoint in response to SIGINT,
// letting the user Ctrl-C out of a foreground mount.
func registerSIGINTHandler(mountPoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)

	go func() {
		for range signalChan {
			logger.Infof("received SIGINT, attempting to unmount %q", mountPoint)
			if err := mount.Unmount(mountPoint); err != nil {
				logger.Errorf("failed to unmount in response to SIGINT: %v", err)
				continue
			}
			logger.Infof("successfully unmounted %q in response to SIGINT", mountPoint)
			return
		}
	}()
}
