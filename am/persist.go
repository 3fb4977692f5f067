package am

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/tempo/errors"
)

// Render encodes cfg as TOML, the format every config file uses.
func Render(cfg *Config) ([]byte, error) {
	out, err := toml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode config")
	}
	return out, nil
}

// WriteFile writes cfg to path, keeping up to three rotated backups of the
// previous contents (.back1 newest).
func WriteFile(path string, cfg *Config) error {
	data, err := Render(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	if err := createBackup(path); err != nil {
		return err
	}

	if w := GetGlobalWatcher(); w != nil {
		w.MarkOwnWrite()
	}

	// Write atomically so the watcher never reads a half-written file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "failed to move %s into place", tmp)
	}
	return nil
}

// createBackup rotates .back3 <- .back2 <- .back1 <- current
func createBackup(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	back := func(n int) string { return path + ".back" + string(rune('0'+n)) }

	if err := os.Remove(back(3)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete old backup %s", back(3))
	}
	for n := 2; n >= 1; n-- {
		if _, err := os.Stat(back(n)); err == nil {
			if err := os.Rename(back(n), back(n+1)); err != nil {
				return errors.Wrapf(err, "failed to rotate %s", back(n))
			}
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back(1), content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}
