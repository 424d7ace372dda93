package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

var envFiles = []string{".env", ".env.local"}

var bracedEnvRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandBraced replaces ${VAR} with the environment value. A bare $name is i3 variable
// syntax and stays as written.
func expandBraced(s string) string {
	return bracedEnvRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// loadEnvFiles loads .env and .env.local from dir when present. Variables already set in
// the process environment are never overwritten. It returns the files that were loaded.
func loadEnvFiles(dir string) ([]string, error) {
	var loaded []string
	for _, name := range envFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, err
		}
		if err := godotenv.Load(path); err != nil {
			return loaded, err
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}

// ExpandPath expands a leading ~ and any $VAR / ${VAR} references in p.
func ExpandPath(p string) string {
	p = os.ExpandEnv(strings.TrimSpace(p))
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// resolvePath expands p and anchors it at base when it is relative.
func resolvePath(p, base string) string {
	p = ExpandPath(p)
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
