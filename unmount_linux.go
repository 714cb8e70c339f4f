package fuse

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// knownFusermountPaths is consulted when fusermount isn't on $PATH,
// mirroring the fallback-path-scanning idiom FUSE-for-OS X installs use
// for their own helper binaries.
var knownFusermountPaths = []string{
	"/bin/fusermount",
	"/usr/bin/fusermount",
	"/bin/fusermount3",
	"/usr/bin/fusermount3",
}

func findFusermount() (string, error) {
	for _, name := range []string{"fusermount3", "fusermount"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	for _, path := range knownFusermountPaths {
		if _, err := exec.LookPath(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("fuse: no fusermount binary found on PATH or in %v", knownFusermountPaths)
}

// Just for testing purposes to mock actual fuserunmount function.
var fuserunmountMock = fuserunmount

func unmount(dir string) error {
	err := fuserunmountMock(dir)
	if err != nil {
		// Return custom error for fusermount unmount error for /dev/fd/N mountpoints
		if strings.HasPrefix(dir, "/dev/fd/") {
			return fmt.Errorf("%w: %s", ErrExternallyManagedMountPoint, err)
		}
	}
	return err
}

func fuserunmount(dir string) error {
	fusermount, err := findFusermount()
	if err != nil {
		return err
	}
	cmd := exec.Command(fusermount, "-u", dir)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if len(output) > 0 {
			output = bytes.TrimRight(output, "\n")
			return fmt.Errorf("%v: %s", err, output)
		}

		return err
	}
	return nil
}
