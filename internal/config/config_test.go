// ABOUTME: Tests for configuration loading
// ABOUTME: Defaults, layer precedence, validation errors, uuid generation
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalYAML = `
qobuz:
  email: a@b.c
  password: pw
`

func TestDefaults(t *testing.T) {
	c, err := Load([]string{"--config", writeConfig(t, minimalYAML)})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Backend.Type != "local" || c.Backend.Local.BufferSize != 2048 {
		t.Errorf("backend defaults = %+v", c.Backend)
	}
	if c.Server.HTTPPort != 8689 || c.Server.ProxyPort != 7120 {
		t.Errorf("server defaults = %+v", c.Server)
	}
	if c.Logging.Level != "info" {
		t.Errorf("log level = %q", c.Logging.Level)
	}
	if c.Device.UUID == "" {
		t.Error("device uuid must be auto-generated")
	}
}

func TestFileValues(t *testing.T) {
	path := writeConfig(t, `
qobuz:
  email: a@b.c
  password: pw
  max_quality: 7
backend:
  type: dlna
  dlna:
    ip: 10.0.0.8
    fixed_volume: true
server:
  http_port: 9000
`)
	c, err := Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Qobuz.MaxQuality != 7 {
		t.Errorf("max quality = %d", c.Qobuz.MaxQuality)
	}
	if c.Backend.Type != "dlna" || c.Backend.DLNA.IP != "10.0.0.8" || !c.Backend.DLNA.FixedVolume {
		t.Errorf("dlna config = %+v", c.Backend.DLNA)
	}
	if c.Backend.DLNA.Port != 1400 {
		t.Errorf("dlna port = %d, default must survive partial file", c.Backend.DLNA.Port)
	}
	if c.Server.HTTPPort != 9000 {
		t.Errorf("http port = %d", c.Server.HTTPPort)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("QOBUZ_EMAIL", "env@example.com")
	t.Setenv("QOBUZ_MAX_QUALITY", "auto")
	c, err := Load([]string{"--config", writeConfig(t, `
qobuz:
  email: file@example.com
  password: pw
  max_quality: 27
`)})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Qobuz.Email != "env@example.com" {
		t.Errorf("email = %q, env must beat file", c.Qobuz.Email)
	}
	if c.Qobuz.MaxQuality != 0 {
		t.Errorf("max quality = %d, auto must map to 0", c.Qobuz.MaxQuality)
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	t.Setenv("QOBUZ_EMAIL", "env@example.com")
	c, err := Load([]string{
		"--config", writeConfig(t, minimalYAML),
		"--email", "cli@example.com",
		"--max-quality", "6",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Qobuz.Email != "cli@example.com" {
		t.Errorf("email = %q, cli must beat env", c.Qobuz.Email)
	}
	if c.Qobuz.MaxQuality != 6 {
		t.Errorf("max quality = %d", c.Qobuz.MaxQuality)
	}
}

func TestMissingCredentialsRejected(t *testing.T) {
	if _, err := Load(nil); err == nil {
		t.Fatal("missing credentials must fail validation")
	}
}

func TestBadQualityRejected(t *testing.T) {
	_, err := Load([]string{"--config", writeConfig(t, minimalYAML), "--max-quality", "9"})
	if err == nil {
		t.Fatal("quality 9 must be rejected")
	}
}

func TestDlnaRequiresIP(t *testing.T) {
	_, err := Load([]string{"--config", writeConfig(t, minimalYAML), "--backend", "dlna"})
	if err == nil {
		t.Fatal("dlna backend without ip must be rejected")
	}
}

func TestBufferSizeBounds(t *testing.T) {
	path := writeConfig(t, `
qobuz:
  email: a@b.c
  password: pw
backend:
  type: local
  local:
    buffer_size: 32
`)
	if _, err := Load([]string{"--config", path}); err == nil {
		t.Fatal("buffer_size below 64 must be rejected")
	}
}

func TestUUIDStable(t *testing.T) {
	path := writeConfig(t, minimalYAML+`
device:
  uuid: my-uuid
`)
	c, err := Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Device.UUID != "my-uuid" {
		t.Errorf("uuid = %q, configured value must win", c.Device.UUID)
	}
}
