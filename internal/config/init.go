package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
)

// Example is the annotated configuration written by `i3configger init`.
const Example = `# i3configger configuration
source:
  dir: ~/.i3/config.d
  suffix: .conf
  # lexical or natural (numeric-aware: 2-x sorts before 10-x)
  order: lexical
  exclude: []
  # pick alternatives for fragments named <prefix>-<key>.<value>.conf
  select: {}

target:
  path: ~/.i3/config
  header: false
  annotate: false

variables:
  keyword: set
  sigil: "$"
  # keep leaves unknown references untouched, error fails the build
  undefined: keep
  strip_definitions: false
  overrides: {}

daemon:
  debounce: 300ms
  max_delay: 5s
  # lock_file: /run/user/1000/i3configger.lock
  resync: 0s
  status_addr: ""

hook:
  # none, reload or restart
  action: reload
  notify: false
  timeout: 5s

announce:
  nats_url: ""
  subject: i3configger.rebuilt

logging:
  level: info
  format: text
  file: ""
`

// Init writes Example to path. An existing file is only replaced when force is set.
func Init(path string, force bool) error {
	if path == "" {
		path = DefaultPath()
	}
	path = ExpandPath(path)

	if _, err := os.Stat(path); err == nil && !force {
		return ferrors.ConfigError("configuration file already exists").
			WithContext("path", path).Build()
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "failed to inspect configuration file").
			WithContext("path", path).Build()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "failed to create configuration directory").
			WithContext("path", path).Build()
	}
	if err := os.WriteFile(path, []byte(Example), 0o600); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "failed to write configuration file").
			WithContext("path", path).Build()
	}
	return nil
}
