// Command cratefs mounts a directory of .crate archives as a read-only
// FUSE file system.
//
// Usage:
//
//	cratefs [flags] source-dir mount-point
package main

import (
	"github.com/crate-fs/cratefs/cmd"
)

func main() {
	cmd.Execute()
}
