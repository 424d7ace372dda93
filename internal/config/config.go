// Package config loads the i3configger YAML configuration, applies defaults and
// validates the result.
package config

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
	"git.home.luguber.info/inful/i3configger/internal/foundation/normalization"
)

const (
	DefaultFileName     = "i3configger.yaml"
	DefaultSourceDir    = "~/.i3/config.d"
	DefaultTargetPath   = "~/.i3/config"
	DefaultSuffix       = ".conf"
	DefaultKeyword      = "set"
	DefaultSigil        = "$"
	DefaultDebounce     = 300 * time.Millisecond
	DefaultMaxDelay     = 5 * time.Second
	DefaultHookTimeout  = 5 * time.Second
	DefaultSubject      = "i3configger.rebuilt"
	DefaultLockFileName = "i3configger.lock"
)

// OrderMode selects how fragment order keys compare.
type OrderMode string

const (
	OrderLexical OrderMode = "lexical"
	OrderNatural OrderMode = "natural"
)

var orderNormalizer = normalization.NewNormalizer("order", map[string]OrderMode{
	"lexical": OrderLexical,
	"natural": OrderNatural,
}, OrderLexical)

// UndefinedPolicy decides what happens to references without a definition.
type UndefinedPolicy string

const (
	UndefinedKeep  UndefinedPolicy = "keep"
	UndefinedError UndefinedPolicy = "error"
)

var undefinedNormalizer = normalization.NewNormalizer("undefined policy", map[string]UndefinedPolicy{
	"keep":  UndefinedKeep,
	"error": UndefinedError,
}, UndefinedKeep)

// HookAction is the i3 IPC command sent after a build that changed the target.
type HookAction string

const (
	HookNone    HookAction = "none"
	HookReload  HookAction = "reload"
	HookRestart HookAction = "restart"
)

var hookNormalizer = normalization.NewNormalizer("hook action", map[string]HookAction{
	"none":    HookNone,
	"reload":  HookReload,
	"restart": HookRestart,
}, HookNone)

// Config is the complete i3configger configuration.
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Target    TargetConfig    `yaml:"target"`
	Variables VariablesConfig `yaml:"variables"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Hook      HookConfig      `yaml:"hook"`
	Announce  AnnounceConfig  `yaml:"announce"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Path is the file the configuration was read from; empty for built-in defaults.
	Path string `yaml:"-"`
	// EnvFiles lists the .env files applied while loading.
	EnvFiles []string `yaml:"-"`
}

// SourceConfig describes where fragments live and which of them take part in a build.
type SourceConfig struct {
	Dir     string            `yaml:"dir"`
	Suffix  string            `yaml:"suffix"`
	Order   OrderMode         `yaml:"order"`
	Exclude []string          `yaml:"exclude,omitempty"`
	Select  map[string]string `yaml:"select,omitempty"`
}

// TargetConfig describes the merged output file.
type TargetConfig struct {
	Path     string `yaml:"path"`
	Header   bool   `yaml:"header"`
	Annotate bool   `yaml:"annotate"`
}

// VariablesConfig describes the variable definition syntax and resolution policy.
type VariablesConfig struct {
	Keyword          string            `yaml:"keyword"`
	Sigil            string            `yaml:"sigil"`
	Undefined        UndefinedPolicy   `yaml:"undefined"`
	StripDefinitions bool              `yaml:"strip_definitions"`
	Overrides        map[string]string `yaml:"overrides,omitempty"`
}

// DaemonConfig tunes the watch loop.
type DaemonConfig struct {
	Debounce   time.Duration `yaml:"debounce"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	LockFile   string        `yaml:"lock_file"`
	Resync     time.Duration `yaml:"resync"`
	StatusAddr string        `yaml:"status_addr"`
}

// HookConfig controls what runs after a build changed the target.
type HookConfig struct {
	Action  HookAction    `yaml:"action"`
	Notify  bool          `yaml:"notify"`
	Timeout time.Duration `yaml:"timeout"`
}

// AnnounceConfig enables publishing rebuild events to NATS.
type AnnounceConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// LoggingConfig selects level, format and destination of log output.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
	File   string    `yaml:"file"`
}

// Default returns the built-in configuration with paths expanded.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Dir:    ExpandPath(DefaultSourceDir),
			Suffix: DefaultSuffix,
			Order:  OrderLexical,
		},
		Target: TargetConfig{Path: ExpandPath(DefaultTargetPath)},
		Variables: VariablesConfig{
			Keyword:   DefaultKeyword,
			Sigil:     DefaultSigil,
			Undefined: UndefinedKeep,
		},
		Daemon: DaemonConfig{
			Debounce: DefaultDebounce,
			MaxDelay: DefaultMaxDelay,
			LockFile: DefaultLockFile(),
		},
		Hook:     HookConfig{Action: HookNone, Timeout: DefaultHookTimeout},
		Announce: AnnounceConfig{Subject: DefaultSubject},
		Logging:  LoggingConfig{Level: LogLevelInfo, Format: LogFormatText},
	}
}

// DefaultPath returns the configuration file used when --config is not given.
func DefaultPath() string {
	return filepath.Join(ExpandPath(DefaultSourceDir), DefaultFileName)
}

// DefaultLockFile returns $XDG_RUNTIME_DIR/i3configger.lock, or the same name in the
// temp dir when no runtime dir is set.
func DefaultLockFile() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, DefaultLockFileName)
	}
	return filepath.Join(os.TempDir(), DefaultLockFileName)
}

// Load reads the configuration at path. When explicit is false a missing file yields
// the defaults; otherwise it is a configuration error. Relative source, lock and log
// paths are anchored at the configuration file's directory, a relative target at the
// source directory.
func Load(path string, explicit bool) (*Config, error) {
	if path == "" {
		path = DefaultPath()
		explicit = false
	}
	path = ExpandPath(path)
	base := filepath.Dir(path)

	envFiles, err := loadEnvFiles(".")
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to load .env file").Build()
	}
	if abs, aerr := filepath.Abs(base); aerr == nil && abs != mustAbs(".") {
		more, err := loadEnvFiles(base)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to load .env file").Build()
		}
		envFiles = append(envFiles, more...)
	}

	cfg := Default()
	cfg.EnvFiles = envFiles

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, cfg); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid configuration file").
				WithContext("path", path).Build()
		}
		cfg.Path = path
		if err := cfg.resolvePaths(base); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// built-in defaults
	case errors.Is(err, fs.ErrNotExist):
		return nil, ferrors.ConfigError("configuration file not found").WithContext("path", path).Build()
	default:
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read configuration file").
			WithContext("path", path).Build()
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	expanded := expandBraced(string(data))
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) resolvePaths(base string) error {
	c.Source.Dir = resolvePath(c.Source.Dir, base)
	if c.Source.Dir == "" {
		return ferrors.ConfigError("source.dir must not be empty").Build()
	}
	c.Target.Path = resolvePath(c.Target.Path, c.Source.Dir)
	c.Daemon.LockFile = resolvePath(c.Daemon.LockFile, base)
	c.Logging.File = resolvePath(c.Logging.File, base)
	return nil
}

// ApplyOverrides replaces source and target with values given on the command line.
// Relative paths are taken from the working directory. Empty values are ignored.
func (c *Config) ApplyOverrides(source, target string) {
	cwd := mustAbs(".")
	if source != "" {
		c.Source.Dir = resolvePath(source, cwd)
	}
	if target != "" {
		c.Target.Path = resolvePath(target, cwd)
	}
}

// Normalize canonicalises enum values and fills unset fields with defaults, then validates.
func (c *Config) Normalize() error {
	var err error
	if c.Source.Order, err = orderNormalizer.Parse(string(c.Source.Order)); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid source.order").Build()
	}
	if c.Variables.Undefined, err = undefinedNormalizer.Parse(string(c.Variables.Undefined)); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid variables.undefined").Build()
	}
	if c.Hook.Action, err = hookNormalizer.Parse(string(c.Hook.Action)); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid hook.action").Build()
	}
	if c.Logging.Level, err = logLevelNormalizer.Parse(string(c.Logging.Level)); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid logging.level").Build()
	}
	if c.Logging.Format, err = logFormatNormalizer.Parse(string(c.Logging.Format)); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid logging.format").Build()
	}

	if c.Source.Suffix == "" {
		c.Source.Suffix = DefaultSuffix
	}
	if !strings.HasPrefix(c.Source.Suffix, ".") {
		c.Source.Suffix = "." + c.Source.Suffix
	}
	if c.Variables.Keyword == "" {
		c.Variables.Keyword = DefaultKeyword
	}
	if c.Variables.Sigil == "" {
		c.Variables.Sigil = DefaultSigil
	}
	if c.Daemon.Debounce == 0 {
		c.Daemon.Debounce = DefaultDebounce
	}
	if c.Daemon.MaxDelay == 0 {
		c.Daemon.MaxDelay = DefaultMaxDelay
	}
	if c.Daemon.LockFile == "" {
		c.Daemon.LockFile = DefaultLockFile()
	}
	if c.Hook.Timeout == 0 {
		c.Hook.Timeout = DefaultHookTimeout
	}
	if c.Announce.Subject == "" {
		c.Announce.Subject = DefaultSubject
	}
	return c.Validate()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Source.Dir == "" {
		return ferrors.ConfigError("source.dir must not be empty").Build()
	}
	if c.Target.Path == "" {
		return ferrors.ConfigError("target.path must not be empty").Build()
	}
	if filepath.Clean(filepath.Dir(c.Target.Path)) == filepath.Clean(c.Source.Dir) &&
		strings.HasSuffix(filepath.Base(c.Target.Path), c.Source.Suffix) {
		return ferrors.ConfigError("target would be read back as a fragment").
			WithContext("target", c.Target.Path).
			WithContext("suffix", c.Source.Suffix).
			Build()
	}
	if strings.ContainsAny(c.Variables.Keyword, " \t") {
		return ferrors.ConfigError("variables.keyword must be a single word").
			WithContext("keyword", c.Variables.Keyword).Build()
	}
	if strings.ContainsAny(c.Variables.Sigil, " \t") {
		return ferrors.ConfigError("variables.sigil must not contain whitespace").
			WithContext("sigil", c.Variables.Sigil).Build()
	}
	for name := range c.Variables.Overrides {
		if name == "" || strings.ContainsAny(name, " \t") {
			return ferrors.ConfigError("variables.overrides contains an invalid name").
				WithContext("variable", name).Build()
		}
	}
	if c.Daemon.Debounce < 0 || c.Daemon.MaxDelay < 0 || c.Daemon.Resync < 0 || c.Hook.Timeout < 0 {
		return ferrors.ConfigError("durations must not be negative").Build()
	}
	if c.Daemon.MaxDelay < c.Daemon.Debounce {
		return ferrors.ConfigError("daemon.max_delay must not be shorter than daemon.debounce").
			WithContext("debounce", c.Daemon.Debounce.String()).
			WithContext("max_delay", c.Daemon.MaxDelay.String()).
			Build()
	}
	return nil
}

func mustAbs(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
