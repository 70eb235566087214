package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// fromEnv parses key with parse. Unset or malformed values yield def.
func fromEnv[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func envString(key, def string) string {
	return fromEnv(key, def, func(s string) (string, error) { return s, nil })
}

func envInt(key string, def int) int {
	return fromEnv(key, def, strconv.Atoi)
}

func envBool(key string, def bool) bool {
	return fromEnv(key, def, strconv.ParseBool)
}

func envDuration(key string, def time.Duration) time.Duration {
	return fromEnv(key, def, time.ParseDuration)
}

// envList splits a comma separated value, dropping blanks.
func envList(key string, def []string) []string {
	return fromEnv(key, def, func(s string) ([]string, error) {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	})
}
