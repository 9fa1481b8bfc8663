//go:build !darwin

package config

import "errors"

func keychainLookup(string) (string, error) {
	return "", errors.New("keychain not available on this platform")
}
