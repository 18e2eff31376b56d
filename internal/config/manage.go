package config

import "fmt"

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns every non-secret key with its effective value.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range settings {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{Key: s.key, EnvVar: s.envVar(), Value: s.value(cfg)})
	}
	return result
}

// SetKey validates value and writes it to the platform config store. API
// keys go to the platform secret store instead.
func SetKey(key, value string) error {
	store, secrets := platformStores()
	return setKeyWith(store, secrets, key, value)
}

// UnsetKey removes a stored value so the default applies again.
func UnsetKey(key string) error {
	store, secrets := platformStores()
	return unsetKeyWith(store, secrets, key)
}

func setKeyWith(store, secrets Store, key, value string) error {
	s, ok := lookup(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		if err := secrets.Set(s.account(), value); err != nil {
			return fmt.Errorf("storing secret %s: %w", key, err)
		}
		return nil
	}

	candidate := defaults()
	if err := s.assign(&candidate, value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := s.checkChoice(candidate); err != nil {
		return err
	}
	return store.Set(key, s.value(candidate))
}

func unsetKeyWith(store, secrets Store, key string) error {
	s, ok := lookup(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return secrets.Delete(s.account())
	}
	return store.Delete(key)
}

// ValidKeys returns the key names accepted by SetKey and UnsetKey.
func ValidKeys() []string {
	keys := make([]string, 0, len(settings))
	for _, s := range settings {
		keys = append(keys, s.key)
	}
	return keys
}
