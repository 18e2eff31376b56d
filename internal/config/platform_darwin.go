//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultsDomain = "com.alloyist.app"

// errSecItemNotFound is the exit status of `security` for a missing item.
const errSecItemNotFound = 44

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support", "alloyist")
	}
	return "alloyist-data"
}

// platformStores returns UserDefaults for settings and the login Keychain
// for secrets.
func platformStores() (settings, secrets Store) {
	return defaultsStore{domain: defaultsDomain}, keychainStore{service: secretService}
}

func secretHint(account string) string {
	return " or macOS Keychain (service: " + secretService + ", account: " + account + ")"
}

func exitStatus(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

type defaultsStore struct {
	domain string
}

func (d defaultsStore) Get(key string) (string, bool, error) {
	out, err := exec.Command("defaults", "read", d.domain, key).CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		if exitStatus(err) == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults read %s: %w: %s", key, err, s)
	}
	return s, true, nil
}

func (d defaultsStore) Set(key, val string) error {
	if out, err := exec.Command("defaults", "write", d.domain, key, "-string", val).CombinedOutput(); err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (d defaultsStore) Delete(key string) error {
	err := exec.Command("defaults", "delete", d.domain, key).Run()
	if err != nil && exitStatus(err) != 1 {
		return fmt.Errorf("defaults delete %s: %w", key, err)
	}
	return nil
}

type keychainStore struct {
	service string
}

func (k keychainStore) Get(account string) (string, bool, error) {
	out, err := exec.Command("security", "find-generic-password", "-s", k.service, "-a", account, "-w").Output()
	if err != nil {
		if exitStatus(err) == errSecItemNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("keychain lookup %s: %w", account, err)
	}
	return strings.TrimSpace(string(out)), true, nil
}

func (k keychainStore) Set(account, val string) error {
	return exec.Command("security", "add-generic-password", "-U", "-s", k.service, "-a", account, "-w", val).Run()
}

func (k keychainStore) Delete(account string) error {
	err := exec.Command("security", "delete-generic-password", "-s", k.service, "-a", account).Run()
	if err != nil && exitStatus(err) != errSecItemNotFound {
		return fmt.Errorf("keychain delete %s: %w", account, err)
	}
	return nil
}
