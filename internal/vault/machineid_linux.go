// SPDX-License-Identifier: MIT

//go:build linux

package vault

import (
	"os"
	"strings"
)

// machineID returns the stable machine identifier used for key
// derivation: /etc/machine-id, the dbus copy, then hostname as the last
// resort so the vault still opens on minimal systems.
func machineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "unknown-machine"
}
