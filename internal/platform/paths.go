package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// AppName is the directory and file stem used for every default path.
const AppName = "shiftsync"

// Paths holds the on-disk locations of the config file, the optional dotenv file and the sqlite database.
type Paths struct {
	ConfigPath string
	EnvPath    string
	DataDir    string
	DBPath     string
}

// Options adjusts default path resolution; an empty AppName falls back to AppName.
type Options struct {
	AppName string
	DevMode bool
}

// DefaultPaths returns the paths for AppName on the running platform.
func DefaultPaths() (Paths, error) {
	return DefaultPathsWithOptions(Options{AppName: AppName})
}

// DefaultPathsWithOptions resolves paths from the user dirs; DevMode suffixes the app name with -dev.
func DefaultPathsWithOptions(opts Options) (Paths, error) {
	appName := strings.TrimSpace(opts.AppName)
	if appName == "" {
		appName = AppName
	}
	if opts.DevMode {
		appName += "-dev"
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("user config dir: %w", err)
	}
	dataDir, err := userDataDir(configDir)
	if err != nil {
		return Paths{}, err
	}

	env := map[string]string{}
	for _, name := range baseDirOverrides[runtime.GOOS] {
		env[name] = os.Getenv(name)
	}
	return PathsFor(runtime.GOOS, env, configDir, dataDir, appName)
}

// userDataDir picks the platform data root; Linux uses ~/.local/share and others share the config root.
func userDataDir(configDir string) (string, error) {
	if runtime.GOOS != "linux" {
		return configDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("user home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share"), nil
}

// baseDirOverrides names the config and data base-dir variables honored per GOOS.
// Platforms without an entry, macOS included, keep the user dirs passed to PathsFor.
var baseDirOverrides = map[string][2]string{
	"linux":   {"XDG_CONFIG_HOME", "XDG_DATA_HOME"},
	"windows": {"APPDATA", "LOCALAPPDATA"},
}

// PathsFor resolves paths from explicit inputs so callers and tests need not touch the process environment.
func PathsFor(goos string, env map[string]string, userConfigDir, userDataDir, appName string) (Paths, error) {
	if userConfigDir == "" || userDataDir == "" {
		return Paths{}, errors.New("user config and data dirs are required")
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, errors.New("app name is required")
	}

	configBase, dataBase := userConfigDir, userDataDir
	if names, ok := baseDirOverrides[goos]; ok {
		if v := env[names[0]]; v != "" {
			configBase = v
		}
		if v := env[names[1]]; v != "" {
			dataBase = v
		}
	}

	appConfigDir := filepath.Join(configBase, appName)
	appDataDir := filepath.Join(dataBase, appName)
	return Paths{
		ConfigPath: filepath.Join(appConfigDir, "config.toml"),
		EnvPath:    filepath.Join(appConfigDir, ".env"),
		DataDir:    appDataDir,
		DBPath:     filepath.Join(appDataDir, appName+".db"),
	}, nil
}
