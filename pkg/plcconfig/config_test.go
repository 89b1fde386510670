package plcconfig

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
profiles:
  - name: line1-plc
    ip_address: 10.0.0.10
    slot: 2
    init_tags: true
    monitor_tags:
      - Flags
      - Counter
  - name: line2-plc
    ip_address: 10.0.0.11
    large_packets: true
    reconnect:
      max_retries: 5
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0644); err != nil {
		t.Fatalf("write sample config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeSample(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.Profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(cfg.Profiles))
	}

	p1, ok := cfg.Find("line1-plc")
	if !ok {
		t.Fatal("line1-plc not found")
	}
	if p1.Port != 44818 {
		t.Errorf("Port default = %d, want 44818", p1.Port)
	}
	if p1.Slot != 2 {
		t.Errorf("Slot = %d, want 2", p1.Slot)
	}
	if !p1.InitTags {
		t.Error("InitTags should be true")
	}
	if len(p1.MonitorTags) != 2 {
		t.Errorf("MonitorTags = %v, want 2 entries", p1.MonitorTags)
	}

	p2, ok := cfg.Find("line2-plc")
	if !ok {
		t.Fatal("line2-plc not found")
	}
	if p2.Reconnect == nil {
		t.Fatal("expected reconnect spec")
	}
	if p2.Reconnect.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", p2.Reconnect.MaxRetries)
	}
	if p2.Reconnect.RetryDelay == 0 {
		t.Error("RetryDelay should default to non-zero")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	cfg := &Config{
		Profiles: []Profile{
			{Name: "dup", IPAddress: "10.0.0.1", Port: 44818},
			{Name: "dup", IPAddress: "10.0.0.2", Port: 44818},
		},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for duplicate profile name")
	}
}

func TestValidateRequiresIPAddress(t *testing.T) {
	cfg := &Config{Profiles: []Profile{{Name: "a"}}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for missing ip_address")
	}
}

func TestProfileOptions(t *testing.T) {
	p := Profile{
		Name:      "test",
		IPAddress: "10.0.0.10",
		Port:      44818,
		Slot:      3,
		TimeoutMs: 2000,
		RPIMs:     500,
	}
	opts := p.Options()
	if opts.IPAddress != "10.0.0.10" {
		t.Errorf("IPAddress = %s, want 10.0.0.10", opts.IPAddress)
	}
	if opts.Slot != 3 {
		t.Errorf("Slot = %d, want 3", opts.Slot)
	}
}
