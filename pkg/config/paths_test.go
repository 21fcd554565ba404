package config

import (
	"path/filepath"
	"testing"
)

func TestResolveRuntimePaths_Default(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvModClawConfig, "")
	t.Setenv(EnvModClawHome, "")

	paths := ResolveRuntimePaths()
	wantHome := filepath.Join(home, ".modclaw")

	if paths.HomeDir != wantHome {
		t.Errorf("HomeDir = %q, want %q", paths.HomeDir, wantHome)
	}
	if paths.ConfigPath != filepath.Join(wantHome, "config.json") {
		t.Errorf("ConfigPath = %q, want %q", paths.ConfigPath, filepath.Join(wantHome, "config.json"))
	}
	if paths.AuditPath != filepath.Join(wantHome, "audit.log") {
		t.Errorf("AuditPath = %q, want %q", paths.AuditPath, filepath.Join(wantHome, "audit.log"))
	}
}

func TestResolveRuntimePaths_UsesModClawHomeOverride(t *testing.T) {
	homeOverride := filepath.Join(t.TempDir(), "mod-home")
	t.Setenv(EnvModClawConfig, "")
	t.Setenv(EnvModClawHome, homeOverride)

	paths := ResolveRuntimePaths()

	if paths.HomeDir != homeOverride {
		t.Errorf("HomeDir = %q, want %q", paths.HomeDir, homeOverride)
	}
	if paths.ConfigPath != filepath.Join(homeOverride, "config.json") {
		t.Errorf("ConfigPath = %q, want %q", paths.ConfigPath, filepath.Join(homeOverride, "config.json"))
	}
}

func TestResolveRuntimePaths_ConfigOverrideTakesPrecedence(t *testing.T) {
	homeOverride := filepath.Join(t.TempDir(), "mod-home")
	configDir := filepath.Join(t.TempDir(), "custom-config-dir")
	configPath := filepath.Join(configDir, "config.json")

	t.Setenv(EnvModClawHome, homeOverride)
	t.Setenv(EnvModClawConfig, configPath)

	paths := ResolveRuntimePaths()

	if paths.ConfigPath != configPath {
		t.Errorf("ConfigPath = %q, want %q", paths.ConfigPath, configPath)
	}
	if paths.HomeDir != configDir {
		t.Errorf("HomeDir = %q, want %q", paths.HomeDir, configDir)
	}
	if paths.AuditPath != filepath.Join(configDir, "audit.log") {
		t.Errorf("AuditPath = %q, want %q", paths.AuditPath, filepath.Join(configDir, "audit.log"))
	}
}
