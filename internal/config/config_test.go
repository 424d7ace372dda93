package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, DefaultSuffix, cfg.Source.Suffix)
	require.Equal(t, OrderLexical, cfg.Source.Order)
	require.Equal(t, UndefinedKeep, cfg.Variables.Undefined)
	require.Equal(t, "set", cfg.Variables.Keyword)
	require.Equal(t, "$", cfg.Variables.Sigil)
	require.Equal(t, 300*time.Millisecond, cfg.Daemon.Debounce)
	require.Equal(t, 5*time.Second, cfg.Daemon.MaxDelay)
	require.Equal(t, HookNone, cfg.Hook.Action)
	require.True(t, filepath.IsAbs(cfg.Source.Dir))
	require.NoError(t, cfg.Validate())
}

func TestDefaultLockFile(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1234")
	require.Equal(t, "/run/user/1234/i3configger.lock", DefaultLockFile())

	t.Setenv("XDG_RUNTIME_DIR", "")
	require.Equal(t, filepath.Join(os.TempDir(), "i3configger.lock"), DefaultLockFile())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
source:
  dir: fragments
  order: Natural
  exclude: [scratch.conf]
  select:
    scheme: dark
target:
  path: ../config
  header: true
variables:
  undefined: ERROR
  overrides:
    mod: Mod1
daemon:
  debounce: 100ms
  max_delay: 2s
  resync: 10m
hook:
  action: restart
  notify: true
`)

	cfg, err := Load(path, true)
	require.NoError(t, err)
	require.Equal(t, path, cfg.Path)
	require.Equal(t, filepath.Join(dir, "fragments"), cfg.Source.Dir)
	require.Equal(t, filepath.Join(dir, "config"), cfg.Target.Path)
	require.Equal(t, OrderNatural, cfg.Source.Order)
	require.Equal(t, []string{"scratch.conf"}, cfg.Source.Exclude)
	require.Equal(t, map[string]string{"scheme": "dark"}, cfg.Source.Select)
	require.True(t, cfg.Target.Header)
	require.Equal(t, UndefinedError, cfg.Variables.Undefined)
	require.Equal(t, "Mod1", cfg.Variables.Overrides["mod"])
	require.Equal(t, 100*time.Millisecond, cfg.Daemon.Debounce)
	require.Equal(t, 2*time.Second, cfg.Daemon.MaxDelay)
	require.Equal(t, 10*time.Minute, cfg.Daemon.Resync)
	require.Equal(t, HookRestart, cfg.Hook.Action)
	require.True(t, cfg.Hook.Notify)
	// untouched sections keep their defaults
	require.Equal(t, "set", cfg.Variables.Keyword)
	require.Equal(t, DefaultSubject, cfg.Announce.Subject)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("I3C_TEST_SOURCE", filepath.Join(dir, "from-env"))
	path := writeConfig(t, dir, "source:\n  dir: ${I3C_TEST_SOURCE}\n")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "from-env"), cfg.Source.Dir)
}

func TestLoad_KeepsVariableReferences(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("mod", "from-env")
	t.Setenv("I3C_TEST_TERM", "kitty")
	path := writeConfig(t, dir, `variables:
  overrides:
    alt: "$mod+Shift"
    term: "${I3C_TEST_TERM} -e $shell"
`)

	cfg, err := Load(path, true)
	require.NoError(t, err)
	require.Equal(t, "$mod+Shift", cfg.Variables.Overrides["alt"])
	require.Equal(t, "kitty -e $shell", cfg.Variables.Overrides["term"])
}

func TestExpandBraced(t *testing.T) {
	t.Setenv("I3C_TEST_A", "x")
	require.Equal(t, "x/$b/${not valid}/", expandBraced("${I3C_TEST_A}/$b/${not valid}/${I3C_TEST_UNSET_VALUE}"))
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("I3C_TEST_SUBJECT=from.dotenv\n"), 0o600))
	path := writeConfig(t, dir, "announce:\n  subject: ${I3C_TEST_SUBJECT}\n")
	t.Setenv("I3C_TEST_SUBJECT", "")
	require.NoError(t, os.Unsetenv("I3C_TEST_SUBJECT"))

	cfg, err := Load(path, true)
	require.NoError(t, err)
	require.Equal(t, "from.dotenv", cfg.Announce.Subject)
	require.Contains(t, cfg.EnvFiles, filepath.Join(dir, ".env"))
}

func TestLoad_DotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("I3C_TEST_SUBJECT=from.dotenv\n"), 0o600))
	path := writeConfig(t, dir, "announce:\n  subject: ${I3C_TEST_SUBJECT}\n")
	t.Setenv("I3C_TEST_SUBJECT", "from.process")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	require.Equal(t, "from.process", cfg.Announce.Subject)
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	_, err := Load(path, true)
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))

	cfg, err := Load(path, false)
	require.NoError(t, err)
	require.Empty(t, cfg.Path)
	require.Equal(t, Default().Source.Dir, cfg.Source.Dir)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown order", "source:\n  order: random\n"},
		{"unknown field", "source:\n  directory: x\n"},
		{"unknown hook", "hook:\n  action: explode\n"},
		{"bad duration", "daemon:\n  debounce: soon\n"},
		{"max below debounce", "daemon:\n  debounce: 2s\n  max_delay: 1s\n"},
		{"keyword with space", "variables:\n  keyword: \"let it\"\n"},
		{"target inside source", "source:\n  dir: d\ntarget:\n  path: out.conf\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			_, err := Load(path, true)
			require.Error(t, err)
			require.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig), "got %v", err)
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides("/tmp/fragments", "")
	require.Equal(t, "/tmp/fragments", cfg.Source.Dir)
	require.Equal(t, Default().Target.Path, cfg.Target.Path)

	cfg.ApplyOverrides("", "out/config")
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cwd, "out", "config"), cfg.Target.Path)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".i3"), ExpandPath("~/.i3"))
	require.Equal(t, home, ExpandPath("~"))
	t.Setenv("I3C_TEST_DIR", "/srv")
	require.Equal(t, "/srv/x", ExpandPath("$I3C_TEST_DIR/x"))
	require.Equal(t, "~user/x", ExpandPath("~user/x"))
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)
	require.NoError(t, Init(path, false))

	cfg, err := Load(path, true)
	require.NoError(t, err)
	require.Equal(t, HookReload, cfg.Hook.Action)

	err = Init(path, false)
	require.Error(t, err)
	require.NoError(t, Init(path, true))
}

func TestLogLevel(t *testing.T) {
	require.Equal(t, LogLevelWarn, NormalizeLogLevel("WARNING"))
	require.Equal(t, LogLevelInfo, NormalizeLogLevel("chatty"))
	require.Equal(t, LogFormatJSON, NormalizeLogFormat(" json "))
}
