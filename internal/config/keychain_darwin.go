//go:build darwin

package config

import (
	"os/exec"
	"strings"
)

// keychainLookup reads a generic password from the login Keychain.
func keychainLookup(account string) (string, error) {
	out, err := exec.Command(
		"security", "find-generic-password",
		"-s", secretsService,
		"-a", account,
		"-w",
	).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
