// Package mount is the Mount Driver: it turns a built inode.Table into a
// live kernel mount by handing the Filesystem Protocol Handler to
// fuse.Mount with a fixed, read-only option set. See DESIGN.md for the
// grounding of this package.
package mount

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/jacobsa/fuse"

	"github.com/crate-fs/cratefs/fs"
	"github.com/crate-fs/cratefs/inode"
	"github.com/crate-fs/cratefs/logger"
	"github.com/crate-fs/cratefs/metrics"
)

// Config carries everything the Mount Driver needs beyond the table
// itself: where to mount, who owns every inode, and whether to record
// metrics.
type Config struct {
	MountPoint string
	Owner      fs.Owner
	Metrics    *metrics.Recorder
}

// readOnlyOptions is the fixed mount option set: the mount is always
// read-only, and a handful of conventional safety options ride along
// (sync/dirsync so metadata changes a future writer might attempt are
// never buffered, noexec/nodev/nosuid since nothing mounted here is
// meant to be executed or treated as a device node, noatime since
// access-time bookkeeping is meaningless for a synthetic read-only
// tree).
var readOnlyOptions = map[string]string{
	"ro":      "",
	"sync":    "",
	"dirsync": "",
	"noexec":  "",
	"nodev":   "",
	"nosuid":  "",
	"noatime": "",
}

// Mount builds the Filesystem Protocol Handler from table and mounts it
// at cfg.MountPoint. Any stale mount left over at MountPoint from a
// previous, uncleanly terminated run is unmounted first; failure to do
// so is logged and ignored, matching gcsfuse's own best-effort cleanup
// before mounting (cmd/mount.go).
func Mount(table *inode.Table, cfg Config) (*fuse.MountedFileSystem, error) {
	if err := tryUnmount(cfg.MountPoint); err != nil {
		logger.Warnf("mount: pre-mount unmount of %q failed (continuing): %v", cfg.MountPoint, err)
	}

	server := fs.NewFuseServer(table, cfg.Owner, cfg.Metrics)

	mountCfg := &fuse.MountConfig{
		FSName:     "cratefs",
		Subtype:    "cratefs",
		VolumeName: "cratefs",
		Options:    readOnlyOptions,
	}

	mfs, err := fuse.Mount(cfg.MountPoint, server, mountCfg)
	if err != nil {
		return nil, fmt.Errorf("mount: fuse.Mount: %w", err)
	}
	return mfs, nil
}

// Unmount asks the kernel to unmount mountPoint. Callers that mounted
// with Mount should normally wait on the returned
// *fuse.MountedFileSystem instead; Unmount exists for signal-driven
// shutdown, since the mount otherwise just runs until the process
// exits.
func Unmount(mountPoint string) error {
	return fuse.Unmount(mountPoint)
}

// tryUnmount best-effort-unmounts a path that might be a stale mount
// point from a previous run, using the platform's native unmount
// command since jacobsa/fuse itself exposes no "is this mounted"
// query.
func tryUnmount(mountPoint string) error {
	var name string
	var args []string
	switch runtime.GOOS {
	case "darwin":
		name, args = "umount", []string{mountPoint}
	default:
		name, args = "fusermount", []string{"-u", mountPoint}
	}
	return exec.Command(name, args...).Run()
}
