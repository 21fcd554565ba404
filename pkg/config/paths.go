package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	EnvModClawConfig = "MODCLAW_CONFIG"
	EnvModClawHome   = "MODCLAW_HOME"
)

type RuntimePaths struct {
	HomeDir    string
	ConfigPath string
	AuditPath  string
	HistoryDir string
}

func ResolveRuntimePaths() RuntimePaths {
	if configPath := expandHome(strings.TrimSpace(os.Getenv(EnvModClawConfig))); configPath != "" {
		return buildRuntimePaths(filepath.Dir(configPath), configPath)
	}

	homeDir := expandHome(strings.TrimSpace(os.Getenv(EnvModClawHome)))
	if homeDir == "" {
		homeDir = defaultModClawHome()
	}

	return buildRuntimePaths(homeDir, filepath.Join(homeDir, "config.json"))
}

func defaultModClawHome() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".modclaw"
	}
	return filepath.Join(home, ".modclaw")
}

func buildRuntimePaths(homeDir, configPath string) RuntimePaths {
	return RuntimePaths{
		HomeDir:    homeDir,
		ConfigPath: configPath,
		AuditPath:  filepath.Join(homeDir, "audit.log"),
		HistoryDir: homeDir,
	}
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
