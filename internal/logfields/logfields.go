package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID    = "build_id"
	KeyState      = "state"
	KeyReason     = "reason"
	KeyPath       = "path"
	KeyDir        = "dir"
	KeyTarget     = "target"
	KeyFragment   = "fragment"
	KeyFragments  = "fragments"
	KeyVariable   = "variable"
	KeyDigest     = "digest"
	KeyOp         = "op"
	KeyHook       = "hook"
	KeyPID        = "pid"
	KeyCount      = "count"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id string) slog.Attr     { return slog.String(KeyBuildID, id) }
func State(s string) slog.Attr       { return slog.String(KeyState, s) }
func Reason(r string) slog.Attr      { return slog.String(KeyReason, r) }
func Path(p string) slog.Attr        { return slog.String(KeyPath, p) }
func Dir(d string) slog.Attr         { return slog.String(KeyDir, d) }
func Target(p string) slog.Attr      { return slog.String(KeyTarget, p) }
func Fragment(name string) slog.Attr { return slog.String(KeyFragment, name) }
func Fragments(n int) slog.Attr      { return slog.Int(KeyFragments, n) }
func Variable(name string) slog.Attr { return slog.String(KeyVariable, name) }
func Digest(d string) slog.Attr      { return slog.String(KeyDigest, d) }
func Op(op string) slog.Attr         { return slog.String(KeyOp, op) }
func Hook(name string) slog.Attr     { return slog.String(KeyHook, name) }
func PID(pid int) slog.Attr          { return slog.Int(KeyPID, pid) }
func Count(n int) slog.Attr          { return slog.Int(KeyCount, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
