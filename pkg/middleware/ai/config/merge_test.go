package config

import (
	"testing"
	"time"
)

type backendConfig struct {
	Model       string
	Temperature *float32
	Timeout     time.Duration
	Stop        []string
	Headers     map[string]string
	hidden      string
}

func f32(v float32) *float32 { return &v }

func TestMerge(t *testing.T) {
	tests := []struct {
		name   string
		target backendConfig
		source *backendConfig
		check  func(t *testing.T, got backendConfig)
	}{
		{
			name:   "nil source keeps target",
			target: backendConfig{Model: "deepseek-r1:671b"},
			source: nil,
			check: func(t *testing.T, got backendConfig) {
				if got.Model != "deepseek-r1:671b" {
					t.Errorf("Model = %q", got.Model)
				}
			},
		},
		{
			name:   "non-zero fields override",
			target: backendConfig{Model: "a", Temperature: f32(0.7), Timeout: time.Second},
			source: &backendConfig{Model: "b", Temperature: f32(0.1)},
			check: func(t *testing.T, got backendConfig) {
				if got.Model != "b" || *got.Temperature != 0.1 {
					t.Errorf("got Model=%q Temperature=%v", got.Model, *got.Temperature)
				}
				if got.Timeout != time.Second {
					t.Errorf("zero Timeout should not override, got %v", got.Timeout)
				}
			},
		},
		{
			name:   "empty slices and maps do not override",
			target: backendConfig{Stop: []string{"\n"}, Headers: map[string]string{"a": "1"}},
			source: &backendConfig{Stop: []string{}, Headers: map[string]string{}},
			check: func(t *testing.T, got backendConfig) {
				if len(got.Stop) != 1 || len(got.Headers) != 1 {
					t.Errorf("got Stop=%v Headers=%v", got.Stop, got.Headers)
				}
			},
		},
		{
			name:   "unexported fields are skipped",
			target: backendConfig{hidden: "keep"},
			source: &backendConfig{hidden: "drop"},
			check: func(t *testing.T, got backendConfig) {
				if got.hidden != "keep" {
					t.Errorf("hidden = %q", got.hidden)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.target
			Merge(&got, tt.source)
			tt.check(t, got)
		})
	}
}

