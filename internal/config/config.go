// Package config loads the daemon's configuration file.
//
// The file is JSONC (JSON with comments and trailing commas), standardized
// through hujson before decoding. Omitted fields keep their defaults; flags
// override on top of whatever the file set.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"

	"github.com/foliantdb/foliant/internal/logging"
)

var (
	// ErrNotFound is returned when an explicitly named config file does not
	// exist. Only the default lookup tolerates a missing file.
	ErrNotFound = errors.New("config: file not found")

	// ErrInvalid is returned for unparsable or out-of-range configuration.
	ErrInvalid = errors.New("config: invalid")
)

// Config holds everything the daemon needs to start.
type Config struct {
	// Listen is the TCP address the server binds.
	Listen string `json:"listen"` //nolint:tagliatelle // snake_case for config file

	// DatabasePath is the durable log location. Empty runs the daemon
	// ephemeral: full speed, nothing survives a restart.
	DatabasePath string `json:"database_path,omitempty"` //nolint:tagliatelle // snake_case for config file

	// CloseTimeout bounds the shutdown drain: in-flight writes and a
	// running compaction get this long to finish.
	CloseTimeout Duration `json:"close_timeout"` //nolint:tagliatelle // snake_case for config file

	// ConnTimeout is the per-connection idle read deadline.
	ConnTimeout Duration `json:"conn_timeout"` //nolint:tagliatelle // snake_case for config file

	LogLevel  string `json:"log_level"`  //nolint:tagliatelle // snake_case for config file
	LogFormat string `json:"log_format"` //nolint:tagliatelle // snake_case for config file

	// CompactOnStart rewrites the log once, right after it loads.
	CompactOnStart bool `json:"compact_on_start,omitempty"` //nolint:tagliatelle // snake_case for config file
}

// Default returns the configuration used when no file and no flags say
// otherwise.
func Default() Config {
	return Config{
		Listen:       "127.0.0.1:7401",
		CloseTimeout: Duration(5 * time.Second),
		ConnTimeout:  Duration(5 * time.Minute),
		LogLevel:     "info",
		LogFormat:    logging.FormatText,
	}
}

// Load returns the configuration from path layered over the defaults. An
// empty path skips the file and returns the defaults unvalidated; callers
// validate after applying their flag overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}

		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	// Standardize JSONC to JSON.
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: invalid JSONC: %v", ErrInvalid, path, err)
	}

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}

	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is empty", ErrInvalid)
	}

	if c.CloseTimeout <= 0 {
		return fmt.Errorf("%w: close_timeout must be positive", ErrInvalid)
	}

	if c.ConnTimeout <= 0 {
		return fmt.Errorf("%w: conn_timeout must be positive", ErrInvalid)
	}

	_, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	_, err = logging.ParseFormat(c.LogFormat)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return nil
}

// Duration is a time.Duration that encodes as a duration string ("5s",
// "1m30s") in JSON.
type Duration time.Duration

// UnmarshalJSON parses a duration string. Bare numbers are rejected; their
// unit would be a guess.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string

	err := json.Unmarshal(data, &s)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)

	return nil
}

// MarshalJSON renders the duration as its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
