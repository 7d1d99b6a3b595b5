//go:build darwin

package config

import "os/exec"

// keychainExec reads a secret from the macOS Keychain.
func keychainExec(service, account string) ([]byte, error) {
	return exec.Command("security", "find-generic-password",
		"-s", service, "-a", account, "-w").Output()
}
