package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// AppName names the per-user directories.
const AppName = "focusd"

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/focusd/
//   - Linux:   $XDG_DATA_HOME/focusd/ or ~/.local/share/focusd/
//   - Windows: %APPDATA%\focusd\
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", AppName)
	case "windows":
		return windowsDir("APPDATA", "Roaming")
	default:
		return xdgDir("XDG_DATA_HOME", ".local", "share")
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/focusd/
//   - Linux:   $XDG_CONFIG_HOME/focusd/ or ~/.config/focusd/
//   - Windows: %APPDATA%\focusd\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin", "windows":
		return PlatformDataDir()
	default:
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
}

// PlatformLogDir returns the platform-specific log directory.
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Logs", AppName)
	case "windows":
		return filepath.Join(windowsDir("LOCALAPPDATA", "Local"), "logs")
	default:
		return xdgDir("XDG_STATE_HOME", ".local", "state")
	}
}

// PlatformRuntimeDir returns the directory for the daemon socket.
//
// Platform paths:
//   - Linux:   $XDG_RUNTIME_DIR/focusd/ or /tmp/focusd-$UID/
//   - others:  /tmp/focusd-$UID/
func PlatformRuntimeDir() string {
	if runtime.GOOS == "linux" {
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, AppName)
		}
	}
	return filepath.Join(os.TempDir(), AppName+"-"+strconv.Itoa(os.Getuid()))
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return home
}

func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, AppName)
	}
	parts := append([]string{homeDir()}, fallback...)
	return filepath.Join(append(parts, AppName)...)
}

func windowsDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(homeDir(), "AppData", fallback, AppName)
}

// DefaultPaths are the default locations of every file focusd uses.
type DefaultPaths struct {
	DataDir    string
	ConfigDir  string
	LogDir     string
	RuntimeDir string

	ConfigFile string
	RulesFile  string
	ExportFile string
	SocketPath string
}

// GetDefaultPaths returns all default paths for the current platform.
func GetDefaultPaths() *DefaultPaths {
	dataDir := PlatformDataDir()
	configDir := PlatformConfigDir()
	runtimeDir := PlatformRuntimeDir()

	return &DefaultPaths{
		DataDir:    dataDir,
		ConfigDir:  configDir,
		LogDir:     PlatformLogDir(),
		RuntimeDir: runtimeDir,

		ConfigFile: filepath.Join(configDir, "config.toml"),
		RulesFile:  filepath.Join(configDir, "rules.json"),
		ExportFile: filepath.Join(dataDir, "export.db"),
		SocketPath: filepath.Join(runtimeDir, AppName+".sock"),
	}
}

// SupportedConfigFormats lists the config file extensions understood by Load.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches the current directory and then the config
// directory for config.<ext>. It returns "" when none exists.
func FindConfigFile() string {
	for _, dir := range []string{".", PlatformConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
