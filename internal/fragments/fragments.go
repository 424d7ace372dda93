// Package fragments enumerates and loads the configuration fragments that make up the
// merged i3 configuration.
package fragments

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"git.home.luguber.info/inful/i3configger/internal/config"
	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
	"git.home.luguber.info/inful/i3configger/internal/logfields"
)

const (
	// DefaultValue marks the alternative used when no selector picks one.
	DefaultValue = "default"
	// DefaultMarker has the same effect as DefaultValue when found in a fragment's content.
	DefaultMarker = "# i3configger default"
)

// Fragment is one loaded source file.
type Fragment struct {
	Path     string
	Name     string
	OrderKey string
	Content  string
	Selector *Selector
}

// Selector identifies a conditional fragment named <prefix>-<key>.<value><suffix>.
type Selector struct {
	Key   string
	Value string
}

// IsDefault reports whether f is the fallback alternative of its selector key.
func (f Fragment) IsDefault() bool {
	if f.Selector == nil {
		return false
	}
	return f.Selector.Value == DefaultValue || strings.Contains(f.Content, DefaultMarker)
}

// Issue records a fragment that was skipped because it could not be read.
type Issue struct {
	Path string
	Err  error
}

// Set is the ordered result of one load.
type Set struct {
	Dir       string
	Fragments []Fragment
	Issues    []Issue
	// Skipped lists conditional fragments that lost selection.
	Skipped []string
	// Warnings carries non-fatal selection problems such as selectors nothing matched.
	Warnings []string
}

// Names returns the fragment file names in order.
func (s *Set) Names() []string {
	names := make([]string, len(s.Fragments))
	for i, f := range s.Fragments {
		names[i] = f.Name
	}
	return names
}

// Options configures a Store.
type Options struct {
	Dir     string
	Suffix  string
	Order   config.OrderMode
	Exclude []string
	Select  map[string]string
}

// OptionsFrom builds Options from the source section of the configuration.
func OptionsFrom(src config.SourceConfig) Options {
	return Options{
		Dir:     src.Dir,
		Suffix:  src.Suffix,
		Order:   src.Order,
		Exclude: src.Exclude,
		Select:  src.Select,
	}
}

// Store loads fragments from a directory.
type Store struct {
	fs     afero.Fs
	opts   Options
	logger *slog.Logger
}

// NewStore creates a Store reading through fsys.
func NewStore(fsys afero.Fs, opts Options, logger *slog.Logger) *Store {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Suffix == "" {
		opts.Suffix = config.DefaultSuffix
	}
	return &Store{fs: fsys, opts: opts, logger: logger}
}

// Dir returns the source directory.
func (s *Store) Dir() string { return s.opts.Dir }

// Matches reports whether a file name follows the fragment naming convention and is
// not excluded. Selection is not considered.
func (s *Store) Matches(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	if !strings.HasSuffix(name, s.opts.Suffix) || name == s.opts.Suffix {
		return false
	}
	for _, pattern := range s.opts.Exclude {
		if pattern == name {
			return false
		}
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return false
		}
	}
	return true
}

// Load reads every matching fragment and returns them ordered. A missing or unreadable
// directory fails with DirectoryUnavailable; unreadable files are reported in
// Set.Issues and left out.
func (s *Store) Load(ctx context.Context) (*Set, error) {
	dir := s.opts.Dir
	info, err := s.fs.Stat(dir)
	if err != nil {
		return nil, ferrors.DirectoryUnavailable("fragment directory unavailable").
			WithCause(err).WithContext("dir", dir).Build()
	}
	if !info.IsDir() {
		return nil, ferrors.DirectoryUnavailable("fragment directory is not a directory").
			WithContext("dir", dir).Build()
	}
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, ferrors.DirectoryUnavailable("fragment directory unreadable").
			WithCause(err).WithContext("dir", dir).Build()
	}

	set := &Set{Dir: dir}
	var all []Fragment
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if !s.Matches(name) {
			continue
		}
		path := filepath.Join(dir, name)
		if !s.isRegular(path, entry) {
			continue
		}

		data, err := afero.ReadFile(s.fs, path)
		if err != nil {
			ce := ferrors.FragmentUnreadable("fragment unreadable").
				WithCause(err).WithContext("path", path).Build()
			set.Issues = append(set.Issues, Issue{Path: path, Err: ce})
			s.logger.Warn("Skipping unreadable fragment", logfields.Path(path), logfields.Error(err))
			continue
		}

		all = append(all, Fragment{
			Path:     path,
			Name:     name,
			OrderKey: OrderKey(name),
			Content:  strings.TrimRight(string(data), "\r\n"),
			Selector: parseSelector(strings.TrimSuffix(name, s.opts.Suffix)),
		})
	}

	Sort(all, s.opts.Order)
	set.Fragments, set.Skipped, set.Warnings = selectFragments(all, s.opts.Select)
	for _, w := range set.Warnings {
		s.logger.Warn(w, logfields.Dir(dir))
	}
	return set, nil
}

func (s *Store) isRegular(path string, entry fs.FileInfo) bool {
	mode := entry.Mode()
	if mode&fs.ModeSymlink != 0 {
		target, err := s.fs.Stat(path)
		if err != nil {
			return false
		}
		mode = target.Mode()
	}
	return mode.IsRegular()
}

// parseSelector splits a file stem of the form [<order>-]<key>.<value>[.<more>].
func parseSelector(stem string) *Selector {
	parts := strings.Split(stem, ".")
	if len(parts) < 2 || parts[1] == "" {
		return nil
	}
	key := parts[0]
	if i := strings.LastIndex(key, "-"); i >= 0 {
		key = key[i+1:]
	}
	if key == "" {
		return nil
	}
	return &Selector{Key: key, Value: parts[1]}
}

// selectFragments keeps unconditional fragments and, per selector key, the alternatives
// picked by sel or the default ones when sel does not name the key. Order is preserved.
func selectFragments(all []Fragment, sel map[string]string) (kept []Fragment, skipped, warnings []string) {
	seen := make(map[string]bool)
	matched := make(map[string]bool)
	for _, f := range all {
		if f.Selector == nil {
			kept = append(kept, f)
			continue
		}
		key := f.Selector.Key
		seen[key] = true
		want, ok := sel[key]
		switch {
		case ok && f.Selector.Value == want:
			matched[key] = true
			kept = append(kept, f)
		case !ok && f.IsDefault():
			kept = append(kept, f)
		default:
			skipped = append(skipped, f.Name)
		}
	}

	keys := make([]string, 0, len(sel))
	for k := range sel {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch {
		case !seen[k]:
			warnings = append(warnings, "selector "+k+" matches no fragment")
		case !matched[k]:
			warnings = append(warnings, "selector "+k+"="+sel[k]+" matches no alternative")
		}
	}
	return kept, skipped, warnings
}
