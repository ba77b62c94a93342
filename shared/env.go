package shared

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Version is reported by the CLI and attached to log lines.
const Version = "0.3.0"

func GetenvString(v string) (string, error) { return v, nil }

func GetenvInt(v string) (int, error) { return strconv.Atoi(v) }

func GetenvBool(v string) (bool, error) { return strconv.ParseBool(v) }

func GetenvFloat(v string) (float64, error) { return strconv.ParseFloat(v, 64) }

func GetenvDuration(v string) (time.Duration, error) { return time.ParseDuration(v) }

// Getenv reads key and parses it. An unset or blank key yields def, or an
// error when required is true.
func Getenv[T any](parse func(string) (T, error), key string, required bool, def T) (T, error) {
	raw, ok := os.LookupEnv(key)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		if required {
			return def, fmt.Errorf("environment variable %s is required", key)
		}
		return def, nil
	}
	v, err := parse(raw)
	if err != nil {
		return def, fmt.Errorf("parsing environment variable %s: %w", key, err)
	}
	return v, nil
}

// MustGetenv is Getenv that panics on error.
func MustGetenv[T any](parse func(string) (T, error), key string, required bool, def T) T {
	v, err := Getenv(parse, key, required, def)
	if err != nil {
		panic(err)
	}
	return v
}
