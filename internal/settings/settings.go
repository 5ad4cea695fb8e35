// Package settings persists the user's API credential in a small JSON file.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

const appName = "gemini-receipts"

// legacyAppName is the (misspelled) directory earlier releases stored settings in
const legacyAppName = "gemeni-receipts"

// credentialKey is the settings field holding the API credential
const credentialKey = "key"

// LoadError is returned when the settings file is missing or unreadable.
// Callers of Load never see it; it is only logged.
type LoadError struct {
	Path  string
	Cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading settings %s: %v", e.Path, e.Cause)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Store reads and writes one settings file
type Store struct {
	path      string
	fallbacks []string
	mu        sync.Mutex
}

// New creates a Store backed by the file at path. While path does not exist,
// settings are read from the first existing fallback; saves always go to path.
func New(path string, fallbacks ...string) *Store {
	return &Store{path: path, fallbacks: fallbacks}
}

// DefaultPath returns the per-user settings file, named after the OS user,
// inside the platform's user configuration directory
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating user config directory: %w", err)
	}
	return filepath.Join(dir, appName, username()+"_settings.conf"), nil
}

// LegacyPath returns where earlier releases kept the settings file
func LegacyPath() (string, error) {
	file := username() + "_settings.conf"
	if runtime.GOOS == "windows" {
		dir := os.Getenv("LOCALAPPDATA")
		if dir == "" {
			return "", errors.New("%LOCALAPPDATA% is not defined")
		}
		return filepath.Join(dir, appName, legacyAppName, file), nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating user config directory: %w", err)
	}
	return filepath.Join(dir, legacyAppName, file), nil
}

// username returns the current OS user name without any domain prefix
func username() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		name := u.Username
		if i := strings.LastIndexAny(name, `\/`); i >= 0 {
			name = name[i+1:]
		}
		return name
	}
	for _, env := range []string{"USER", "USERNAME"} {
		if name := os.Getenv(env); name != "" {
			return name
		}
	}
	return "default"
}

// Path returns the settings file location
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored credential. Any problem reading the file is logged
// and reported as no credential.
func (s *Store) Load() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		slog.Warn("Cannot load settings", "error", err)
		return "", false
	}

	raw, ok := values[credentialKey]
	if !ok {
		return "", false
	}
	var key string
	if err := json.Unmarshal(raw, &key); err != nil {
		slog.Warn("Cannot load settings", "error", &LoadError{Path: s.path, Cause: fmt.Errorf("key is not a string: %w", err)})
		return "", false
	}
	if key == "" {
		return "", false
	}
	return key, true
}

// Save stores credential, keeping any other fields already in the file.
// The file and its directory are created when missing.
func (s *Store) Save(credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		values = make(map[string]json.RawMessage)
	}

	key, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("marshaling key: %w", err)
	}
	values[credentialKey] = key

	data, err := json.MarshalIndent(values, "", "    ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}

	slog.Info("Saved API key to settings", "path", s.path)
	return nil
}

// read decodes the settings file, or the first existing fallback when the
// file is missing
func (s *Store) read() (map[string]json.RawMessage, error) {
	values, err := readFile(s.path)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return values, err
	}

	for _, path := range s.fallbacks {
		values, fbErr := readFile(path)
		if errors.Is(fbErr, fs.ErrNotExist) {
			continue
		}
		if fbErr == nil {
			slog.Info("Reading settings from legacy location", "path", path)
		}
		return values, fbErr
	}
	return nil, err
}

// readFile decodes one settings file as a JSON object
func readFile(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Cause: err}
	}

	var values map[string]json.RawMessage
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, &LoadError{Path: path, Cause: err}
	}
	if values == nil {
		return nil, &LoadError{Path: path, Cause: fmt.Errorf("not a JSON object")}
	}
	return values, nil
}
