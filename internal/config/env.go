// Package config loads runtime configuration for the trading core.
//
// Two loaders are provided, splitting a lightweight env-var layer
// (GetEnv*/LoadDotEnv) from a structured file for the larger nested
// settings the env-var style cannot comfortably express:
//
//   - env.go:  dependency-free .env hydration (LoadDotEnv) and the
//     GetEnv* helpers.
//   - config.go: the full Config struct (trading, risk, loop cadences,
//     run-mode gates) loaded via viper from YAML with POC_* env overrides.
package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func GetEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func GetEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func GetEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}

func GetEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// LoadDotEnv reads .env from "." and ".." and sets only the keys the
// process needs, without overriding variables already present in the
// environment. Multi-line secrets (PEM keys, etc.) are intentionally
// ignored here; they belong to the specific broker adapter that needs them.
func LoadDotEnv(needed map[string]struct{}) {
	try := func(path string) {
		f, err := os.Open(path)
		if err != nil {
			return
		}
		defer f.Close()
		s := bufio.NewScanner(f)
		for s.Scan() {
			line := strings.TrimSpace(s.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if strings.HasPrefix(line, "export ") {
				line = strings.TrimSpace(line[len("export "):])
			}
			eq := strings.Index(line, "=")
			if eq <= 0 {
				continue
			}
			key := strings.TrimSpace(line[:eq])
			if _, ok := needed[key]; !ok {
				continue
			}
			val := strings.TrimSpace(line[eq+1:])
			if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
				val = val[1 : len(val)-1]
			}
			if idx := strings.IndexAny(val, "#"); idx >= 0 {
				val = strings.TrimSpace(val[:idx])
			}
			if os.Getenv(key) == "" {
				_ = os.Setenv(key, val)
			}
		}
	}
	for _, base := range []string{".", ".."} {
		try(filepath.Join(base, ".env"))
	}
}
