package mount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadOnlyOptionsIncludesRo(t *testing.T) {
	_, ok := readOnlyOptions["ro"]
	assert.True(t, ok)
}

func TestReadOnlyOptionsCoversConventionalSafetyFlags(t *testing.T) {
	for _, want := range []string{"ro", "sync", "dirsync", "noexec", "nodev", "nosuid", "noatime"} {
		_, ok := readOnlyOptions[want]
		assert.True(t, ok, "expected option %q", want)
	}
}

func TestTryUnmountOnNonMountedPathReturnsErrorNotPanic(t *testing.T) {
	var err error
	assert.NotPanics(t, func() {
		err = tryUnmount(t.TempDir())
	})
	assert.Error(t, err)
}
