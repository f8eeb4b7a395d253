package configuration

import (
	"path/filepath"
	"testing"
)

func TestLoadEnv_NoFiles(t *testing.T) {
	n, err := LoadEnv([]string{filepath.Join(t.TempDir(), ".env")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 loaded files, got %d", n)
	}
}

func TestDatabaseOptions_ConnectionString(t *testing.T) {
	d := DatabaseOptions{
		Name:     "eventcore",
		Host:     "db",
		Port:     "5433",
		User:     "app",
		Password: "secret",
	}
	want := "host=db port=5433 user=app dbname=eventcore password=secret sslmode=disable"
	if got := d.ConnectionString(); got != want {
		t.Fatalf("want %q got %q", want, got)
	}
}

func TestConfiguration_LogrusLogLevel(t *testing.T) {
	cases := map[string]string{
		"silent": "panic",
		"error":  "error",
		"warn":   "warning",
		"info":   "info",
		"debug":  "debug",
		"bogus":  "error",
		"":       "error",
	}
	for in, want := range cases {
		c := &Configuration{LogLevel: in}
		if got := c.LogrusLogLevel().String(); got != want {
			t.Errorf("LogLevel=%q: want %s got %s", in, want, got)
		}
	}
}
