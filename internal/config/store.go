package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// Store persists config values as strings. Settings are keyed by their dotted
// name, secrets by account name. Get reports ok=false for a missing key and
// Delete of a missing key is not an error.
type Store interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
	Delete(key string) error
}

// jsonFile is a Store over a flat JSON object. Numbers and booleans written
// by hand read back in their text form.
type jsonFile struct {
	path string
}

func (f jsonFile) read() (map[string]any, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	return m, nil
}

func (f jsonFile) Get(key string) (string, bool, error) {
	m, err := f.read()
	if err != nil {
		return "", false, err
	}
	switch v := m[key].(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	default:
		return "", true, fmt.Errorf("%s in %s holds a %T", key, f.path, v)
	}
}

func (f jsonFile) Set(key, val string) error {
	return f.update(func(m map[string]any) { m[key] = val })
}

func (f jsonFile) Delete(key string) error {
	return f.update(func(m map[string]any) { delete(m, key) })
}

func (f jsonFile) update(change func(map[string]any)) error {
	m, err := f.read()
	if err != nil {
		return err
	}
	change(m)

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, append(data, '\n'), 0o600)
}
