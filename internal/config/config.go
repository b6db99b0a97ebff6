package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/filegrind/keyapi-go/wire"
)

// StdioFlag asks the engine to speak the framed protocol on its standard streams.
const StdioFlag = "--std"

// DefaultJarName is looked up in the working directory when no jar is configured.
const DefaultJarName = "api.jar"

// Config holds everything needed to start and observe the engine bridge.
type Config struct {
	// Java is the JVM launcher used when Executable is empty.
	Java string `yaml:"java"`
	// Jar is the engine jar; relative paths resolve against the working directory.
	Jar string `yaml:"jar"`
	// Executable replaces the java launcher entirely (e.g. a native engine build).
	Executable string `yaml:"executable"`
	// Args are passed to Executable. Defaults to just the stdio flag.
	Args []string `yaml:"args"`

	LogLevel    string        `yaml:"log_level"`
	MetricsAddr string        `yaml:"metrics_addr"`
	ExitGrace   time.Duration `yaml:"exit_grace"`
	Limits      wire.Limits   `yaml:"limits"`

	ConfigFile string `yaml:"-"`
}

// Default returns a Config populated from KEYAPI_* environment variables, falling
// back to built-in defaults.
func Default() Config {
	c := Config{
		Java:        GetEnv("KEYAPI_JAVA", "java"),
		Jar:         GetEnv("KEYAPI_JAR", DefaultJarName),
		Executable:  GetEnv("KEYAPI_EXECUTABLE", ""),
		LogLevel:    GetEnv("KEYAPI_LOG_LEVEL", "info"),
		MetricsAddr: normalizeAddr(GetEnv("KEYAPI_METRICS_ADDR", "")),
		ExitGrace:   2 * time.Second,
		Limits:      wire.DefaultLimits(),
		ConfigFile:  GetEnv("KEYAPI_CONFIG_FILE", DefaultConfigPath("keyapi.yaml")),
	}
	if v := os.Getenv("KEYAPI_EXIT_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ExitGrace = d
		}
	}
	return c
}

// BindFlags registers command line flags backed by the config fields.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.StringVar(&c.Java, "java", c.Java, "java launcher used to run the engine jar")
	fs.StringVar(&c.Jar, "jar", c.Jar, "engine jar path, relative to the working directory")
	fs.StringVar(&c.Executable, "engine", c.Executable, "engine executable to run instead of java -jar")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Prometheus metrics listen address or port (disabled when empty)")
	fs.DurationVar(&c.ExitGrace, "exit-grace", c.ExitGrace, "how long to wait for the engine exit status after its output closes")
}

// LoadFile populates the config from a YAML file. Fields already set remain unless
// overwritten by corresponding entries in the file.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Load applies the config file, if any, underneath explicitly set flags.
// A missing file is not an error.
func (c *Config) Load(fs *pflag.FlagSet) error {
	explicit := make(map[string]string)
	if fs != nil {
		fs.Visit(func(f *pflag.Flag) {
			explicit[f.Name] = f.Value.String()
		})
	}
	if c.ConfigFile != "" {
		if err := c.LoadFile(c.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	var errs []error
	for name, value := range explicit {
		if err := fs.Set(name, value); err != nil {
			errs = append(errs, err)
		}
	}
	c.MetricsAddr = normalizeAddr(c.MetricsAddr)
	return errors.Join(errs...)
}

// JarPath returns the absolute engine jar path.
func (c *Config) JarPath() string {
	if filepath.IsAbs(c.Jar) {
		return c.Jar
	}
	wd, err := os.Getwd()
	if err != nil {
		return c.Jar
	}
	return filepath.Join(wd, c.Jar)
}

// EngineCommand returns the program and arguments that start the engine.
func (c *Config) EngineCommand() (string, []string) {
	if c.Executable != "" {
		args := c.Args
		if len(args) == 0 {
			args = []string{StdioFlag}
		}
		return c.Executable, append([]string(nil), args...)
	}
	java := c.Java
	if java == "" {
		java = "java"
	}
	return java, []string{"-jar", c.JarPath(), StdioFlag}
}

// ExpectedPath names what must exist for the engine to start, for diagnostics.
func (c *Config) ExpectedPath() string {
	if c.Executable != "" {
		return c.Executable
	}
	return c.JarPath()
}

// RemediationHint tells the user how to fix a failed engine start.
func (c *Config) RemediationHint() string {
	if c.Executable != "" {
		return fmt.Sprintf("Please ensure the engine executable exists at %s", c.Executable)
	}
	java := c.Java
	if java == "" {
		java = "java"
	}
	return fmt.Sprintf("Please ensure %s is available in $PATH and the api is placed at %s", java, c.JarPath())
}

// GetEnv returns the environment value for key, or def when unset or empty.
func GetEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func normalizeAddr(addr string) string {
	if addr != "" && !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}

// DefaultConfigPath returns the default config file path for the given file name.
func DefaultConfigPath(name string) string {
	home, _ := os.UserHomeDir()
	return ResolveConfigPath(runtime.GOOS, home, os.Getenv("APPDATA"), os.Getenv("XDG_CONFIG_HOME"), name)
}

// ResolveConfigPath constructs a config file path for the given OS and base
// directories. It is mainly used in tests.
func ResolveConfigPath(goos, home, appData, xdgConfig, name string) string {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "keyapi", name)
	case "windows":
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		appData = strings.TrimRight(appData, "\\/")
		return filepath.Join(appData, "keyapi", name)
	default:
		if xdgConfig == "" {
			xdgConfig = filepath.Join(home, ".config")
		}
		return filepath.Join(xdgConfig, "keyapi", name)
	}
}
