package pgvector

import (
	"context"
	"strings"
	"testing"
)

func TestNewConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{"missing connection string", &Config{}, "connection string is required"},
		{"invalid table name", &Config{ConnectionString: "postgres://localhost/db", TableName: "records; DROP TABLE x"}, "invalid table name"},
		{"table name with dash", &Config{ConnectionString: "postgres://localhost/db", TableName: "guide-line"}, "invalid table name"},
		{"unparseable connection string", &Config{ConnectionString: "postgres://%zz"}, "failed to parse connection string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.config)
			if err == nil {
				t.Fatal("New() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestTableNamePattern(t *testing.T) {
	valid := []string{"guideline_records", "_records", "Records2"}
	invalid := []string{"", "2records", "a.b", "a b", "a\"b"}

	for _, name := range valid {
		if !tableNamePattern.MatchString(name) {
			t.Errorf("%q should be a valid table name", name)
		}
	}
	for _, name := range invalid {
		if tableNamePattern.MatchString(name) {
			t.Errorf("%q should be rejected", name)
		}
	}
}

func TestCloseNilPool(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
