// SPDX-License-Identifier: MPL-2.0

//go:build linux

package hostcap

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// realtimeCapable tests CAP_SYS_NICE in the effective set of the calling
// thread.
func realtimeCapable() (bool, error) {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return false, fmt.Errorf("capget: %w", err)
	}
	return hasCap(data, unix.CAP_SYS_NICE), nil
}

func hasCap(data [2]unix.CapUserData, c int) bool {
	return data[c/32].Effective&(1<<(uint(c)%32)) != 0
}
