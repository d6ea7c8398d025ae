// Package helpers provides small utilities shared by config loading and the
// model backends.
package helpers

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// fromEnv parses the trimmed value of key, falling back to def when the
// variable is unset, blank or unparseable.
func fromEnv[T any](key string, def T, parse func(string) (T, error)) T {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	v, err := parse(value)
	if err != nil {
		return def
	}
	return v
}

// GetStringFromEnv returns the variable, or defaultValue when unset or blank.
//
//	host := helpers.GetStringFromEnv("OLLAMA_HOST", "http://localhost:11434")
func GetStringFromEnv(key, defaultValue string) string {
	return fromEnv(key, defaultValue, func(s string) (string, error) { return s, nil })
}

// GetIntFromEnv returns the variable as an int.
func GetIntFromEnv(key string, defaultValue int) int {
	return fromEnv(key, defaultValue, strconv.Atoi)
}

// GetFloatFromEnv returns the variable as a float64.
//
//	temperature := helpers.GetFloatFromEnv("GUIDEBOT_PRIMARY_TEMPERATURE", 0.7)
func GetFloatFromEnv(key string, defaultValue float64) float64 {
	return fromEnv(key, defaultValue, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// GetBoolFromEnv returns the variable as a bool (strconv.ParseBool syntax).
func GetBoolFromEnv(key string, defaultValue bool) bool {
	return fromEnv(key, defaultValue, strconv.ParseBool)
}

// GetDurationFromEnv returns the variable as a time.ParseDuration value.
//
//	ttl := helpers.GetDurationFromEnv("GUIDEBOT_SESSION_TTL", 24*time.Hour)
func GetDurationFromEnv(key string, defaultValue time.Duration) time.Duration {
	return fromEnv(key, defaultValue, time.ParseDuration)
}
