package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.MaxSessions != 65536 {
		t.Errorf("MaxSessions = %d, want 65536", cfg.Session.MaxSessions)
	}
	if cfg.Session.MaxAliases != 3 {
		t.Errorf("MaxAliases = %d, want 3", cfg.Session.MaxAliases)
	}
	if cfg.SocketPath() != cfg.Socket.TestPath {
		t.Errorf("default mode should use test socket path")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PAYPROC_LIVE", "true")
	t.Setenv("PAYPROC_ADMIN_UID", "0, 1000")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Socket.Live {
		t.Error("expected live mode from env override")
	}
	if cfg.SocketPath() != cfg.Socket.LivePath {
		t.Error("expected live socket path")
	}
	if len(cfg.Socket.AdminUID) != 2 || cfg.Socket.AdminUID[1] != 1000 {
		t.Errorf("AdminUID = %v", cfg.Socket.AdminUID)
	}
}
