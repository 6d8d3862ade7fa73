package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Malformed(t *testing.T) {
	cases := []struct {
		file, body string
	}{
		{"bad.yaml", "addr: :8080\n: broken\n"},
		{"bad.json", `{ "addr": ":8080", "cache_dir": }`},
		{"bad.toml", "addr=:8080\ncache_dir\n"},
		{"dur.json", `{"max_wait":"soon"}`},
		{"dur.yaml", "drain_timeout: 5 parsecs\n"},
		{"dur_num.json", `{"ask_timeout": 30}`},
	}
	for _, tc := range cases {
		t.Run(tc.file, func(t *testing.T) {
			p := writeTempFile(t, t.TempDir(), tc.file, tc.body)
			if _, err := Load(p); err == nil {
				t.Fatalf("expected error for %s", tc.body)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "gemmad.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDuration_TOMLAndEmpty(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "d.toml", "max_wait = \"1m30s\"\ndrain_timeout = \"\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxWait.Std() != 90*time.Second {
		t.Fatalf("max_wait = %v", cfg.MaxWait)
	}
	if cfg.DrainTimeout != 0 {
		t.Fatalf("empty duration should be zero, got %v", cfg.DrainTimeout)
	}
}

func TestTemperatureZeroSurvivesDefaults(t *testing.T) {
	for _, name := range []string{"t.yaml", "t.json", "t.toml"} {
		body := map[string]string{
			"t.yaml": "temperature: 0\n",
			"t.json": `{"temperature": 0}`,
			"t.toml": "temperature = 0.0\n",
		}[name]
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeTempFile(t, t.TempDir(), name, body))
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			cfg = cfg.WithDefaults()
			if cfg.Temperature == nil || *cfg.Temperature != 0 {
				t.Fatalf("temperature = %v, want explicit 0", cfg.Temperature)
			}
		})
	}
}
