package configutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

func readJson5[T any](path string) (T, bool, error) {
	var out T
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if len(contents) == 0 {
		return out, false, nil
	}
	err = json5.Unmarshal(contents, &out)
	if err != nil {
		return out, false, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, true, nil
}

// reads a configuration file, `name` should come with a file extension,
// it will automatically be lopped off to produce the other extensions.
// this function will merge the following files, where higher number is more prioritized.
// 1. <name>.<ext>
// 2. <name>.local.<ext>
//
// returns os.ErrNotExist if neither file exists.
func ReadConfig[T any](name string) (T, error) {
	prefixname, ext := splitExt(filepath.Base(name))
	localpath := filepath.Join(
		filepath.Dir(name),
		fmt.Sprintf("%s.local.%s", prefixname, ext),
	)

	out, found, err := readJson5[T](name)
	if err != nil {
		return out, err
	}

	override, foundLocal, err := readJson5[T](localpath)
	if err != nil {
		return out, err
	}
	if foundLocal {
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, err
		}
		slog.Info("merging config with local overrides", "local", localpath)
	}

	if !found && !foundLocal {
		return out, os.ErrNotExist
	}
	return out, nil
}

// ReadConfigOr is ReadConfig, except a missing file yields `defaults`
// and any file present is merged on top of `defaults`. Zero values in the
// file do not override non-zero defaults.
func ReadConfigOr[T any](name string, defaults T) (T, error) {
	read, err := ReadConfig[T](name)
	if errors.Is(err, os.ErrNotExist) {
		return defaults, nil
	}
	if err != nil {
		return defaults, err
	}
	out := defaults
	err = mergo.Merge(&out, read, mergo.WithOverride)
	return out, err
}

// ReadConfig but it recursively goes up the filesystem until the root
// to find a configuration file matching the name.
func ReadRecursively[T any](name string) (T, error) {
	var defaultOut T

	root, err := filepath.Abs("/")
	if err != nil {
		return defaultOut, err
	}
	current, err := os.Getwd()
	if err != nil {
		return defaultOut, err
	}

	for current != root {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if os.IsNotExist(err) {
			current = filepath.Dir(current)
			continue
		}
		if err != nil {
			return defaultOut, err
		}
		return config, nil
	}

	return defaultOut, os.ErrNotExist
}

// EnvString overwrites `dst` with the environment variable `key` when it is set.
func EnvString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// EnvList overwrites `dst` with the comma separated values of `key` when it is set.
func EnvList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

// EnvInt overwrites `dst` with the integer value of `key` when it is set.
func EnvInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("env %s: %w", key, err)
	}
	*dst = parsed
	return nil
}
