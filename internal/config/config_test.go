package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.RedisHost != "localhost" || cfg.RedisPort != "6379" {
		t.Errorf("redis defaults = %s:%s", cfg.RedisHost, cfg.RedisPort)
	}
	if cfg.RedisAddr() != "localhost:6379" {
		t.Errorf("RedisAddr() = %s", cfg.RedisAddr())
	}
	if cfg.BackendPort != "8000" {
		t.Errorf("backend port = %s, want 8000", cfg.BackendPort)
	}
	if cfg.TileSize != 256 {
		t.Errorf("tile size = %d, want 256", cfg.TileSize)
	}
	if cfg.ExportWindowSize != 4096 {
		t.Errorf("export window = %d, want 4096", cfg.ExportWindowSize)
	}
	if cfg.MemoSize != 64 {
		t.Errorf("memo size = %d, want 64", cfg.MemoSize)
	}
	if !cfg.MinZoomGate {
		t.Error("min zoom gate should default on")
	}
}
