package startup

import (
	"testing"
	"time"
)

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		envValue     string
		defaultValue bool
		want         bool
		setEnv       bool
	}{
		{
			name:         "Returns default when env var not set",
			key:          "TEST_BOOL_UNSET",
			defaultValue: true,
			want:         true,
			setEnv:       false,
		},
		{
			name:         "Returns default false when env var not set",
			key:          "TEST_BOOL_UNSET2",
			defaultValue: false,
			want:         false,
			setEnv:       false,
		},
		{
			name:         "Returns true when env var is 'true'",
			key:          "TEST_BOOL_TRUE",
			envValue:     "true",
			defaultValue: false,
			want:         true,
			setEnv:       true,
		},
		{
			name:         "Returns false when env var is 'false'",
			key:          "TEST_BOOL_FALSE",
			envValue:     "false",
			defaultValue: true,
			want:         false,
			setEnv:       true,
		},
		{
			name:         "Returns true when env var is '1'",
			key:          "TEST_BOOL_ONE",
			envValue:     "1",
			defaultValue: false,
			want:         true,
			setEnv:       true,
		},
		{
			name:         "Returns false when env var is '0'",
			key:          "TEST_BOOL_ZERO",
			envValue:     "0",
			defaultValue: true,
			want:         false,
			setEnv:       true,
		},
		{
			name:         "Returns true when env var is 't'",
			key:          "TEST_BOOL_T",
			envValue:     "t",
			defaultValue: false,
			want:         true,
			setEnv:       true,
		},
		{
			name:         "Returns false when env var is 'f'",
			key:          "TEST_BOOL_F",
			envValue:     "f",
			defaultValue: true,
			want:         false,
			setEnv:       true,
		},
		{
			name:         "Returns true when env var is 'T'",
			key:          "TEST_BOOL_T_UPPER",
			envValue:     "T",
			defaultValue: false,
			want:         true,
			setEnv:       true,
		},
		{
			name:         "Returns false when env var is 'F'",
			key:          "TEST_BOOL_F_UPPER",
			envValue:     "F",
			defaultValue: true,
			want:         false,
			setEnv:       true,
		},
		{
			name:         "Returns true when env var is 'TRUE'",
			key:          "TEST_BOOL_TRUE_UPPER",
			envValue:     "TRUE",
			defaultValue: false,
			want:         true,
			setEnv:       true,
		},
		{
			name:         "Returns false when env var is 'FALSE'",
			key:          "TEST_BOOL_FALSE_UPPER",
			envValue:     "FALSE",
			defaultValue: true,
			want:         false,
			setEnv:       true,
		},
		{
			name:         "Returns default when env var is invalid",
			key:          "TEST_BOOL_INVALID",
			envValue:     "not-a-bool",
			defaultValue: true,
			want:         true,
			setEnv:       true,
		},
		{
			name:         "Returns default when env var is empty string",
			key:          "TEST_BOOL_EMPTY",
			envValue:     "",
			defaultValue: false,
			want:         false,
			setEnv:       true,
		},
		{
			name:         "Returns default when env var has spaces",
			key:          "TEST_BOOL_SPACES",
			envValue:     "   ",
			defaultValue: true,
			want:         true,
			setEnv:       true,
		},
		{
			name:         "Returns default when env var is 'yes'",
			key:          "TEST_BOOL_YES",
			envValue:     "yes",
			defaultValue: false,
			want:         false,
			setEnv:       true,
		},
		{
			name:         "Returns default when env var is 'no'",
			key:          "TEST_BOOL_NO",
			envValue:     "no",
			defaultValue: true,
			want:         true,
			setEnv:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setEnv {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnvBool(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool(%q, %v) = %v, want %v (env: %q)", tt.key, tt.defaultValue, got, tt.want, tt.envValue)
			}
		})
	}
}

func TestGetEnvNumbers(t *testing.T) {
	t.Setenv("TEST_INT_SET", " 42 ")
	t.Setenv("TEST_INT_BAD", "forty")
	t.Setenv("TEST_FLOAT_SET", "15.5")
	t.Setenv("TEST_FLOAT_BAD", "lots")

	if got := getEnvInt("TEST_INT_SET", 1); got != 42 {
		t.Errorf("getEnvInt(set) = %d, want 42", got)
	}
	if got := getEnvInt("TEST_INT_BAD", 7); got != 7 {
		t.Errorf("getEnvInt(bad) = %d, want default 7", got)
	}
	if got := getEnvInt("TEST_INT_UNSET", 9); got != 9 {
		t.Errorf("getEnvInt(unset) = %d, want default 9", got)
	}
	if got := getEnvFloat("TEST_FLOAT_SET", 1); got != 15.5 {
		t.Errorf("getEnvFloat(set) = %v, want 15.5", got)
	}
	if got := getEnvFloat("TEST_FLOAT_BAD", 16); got != 16 {
		t.Errorf("getEnvFloat(bad) = %v, want default 16", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"unset", "", time.Minute},
		{"valid", "90s", 90 * time.Second},
		{"hours", "720h", 720 * time.Hour},
		{"zero", "0", 0},
		{"invalid", "soon", time.Minute},
		{"negative", "-5m", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			if got := getEnvDuration("TEST_DURATION", time.Minute); got != tt.want {
				t.Errorf("getEnvDuration(%q) = %s, want %s", tt.value, got, tt.want)
			}
		})
	}
}

func BenchmarkGetEnvBool(b *testing.B) {
	b.Setenv("BENCH_BOOL", "true")
	for i := 0; i < b.N; i++ {
		getEnvBool("BENCH_BOOL", false)
	}
}
