package merge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/i3configger/internal/fragments"
	"git.home.luguber.info/inful/i3configger/internal/variables"
)

func frags() []fragments.Fragment {
	return []fragments.Fragment{
		{Name: "10-vars.conf", Content: "# variables\nset $mod Mod4\nset $term alacritty"},
		{Name: "20-keys.conf", Content: "bindsym $mod+Return exec $term\n\nbindsym $mod+q kill"},
	}
}

func resolution(t *testing.T, in []fragments.Fragment) *variables.Resolution {
	t.Helper()
	res, err := variables.NewResolver(variables.DefaultSyntax()).Resolve(in)
	require.NoError(t, err)
	return res
}

func TestMerge_Plain(t *testing.T) {
	in := frags()
	doc := Merge(in, resolution(t, in), Options{})

	want := "# variables\nset $mod Mod4\nset $term alacritty\n" +
		"bindsym Mod4+Return exec alacritty\n\nbindsym Mod4+q kill\n"
	require.Equal(t, want, doc.Content)
	require.Equal(t, []string{"10-vars.conf", "20-keys.conf"}, doc.Fragments)
	require.Len(t, doc.Digest, 64)
}

func TestMerge_Deterministic(t *testing.T) {
	in := frags()
	opts := Options{Header: true, Annotate: true, Source: "/home/u/.i3/config.d"}
	a := Merge(in, resolution(t, in), opts)
	b := Merge(frags(), resolution(t, frags()), opts)
	require.Equal(t, a.Content, b.Content)
	require.Equal(t, a.Digest, b.Digest)
}

func TestMerge_Decorations(t *testing.T) {
	in := frags()
	doc := Merge(in, resolution(t, in), Options{
		Header:           true,
		Annotate:         true,
		StripDefinitions: true,
		Source:           "/src",
	})

	want := "# Generated by i3configger. Do not edit; changes are overwritten.\n" +
		"# Source: /src\n" +
		"# Fragments: 10-vars.conf, 20-keys.conf\n" +
		"### 10-vars.conf ###\n# variables\n" +
		"### 20-keys.conf ###\nbindsym Mod4+Return exec alacritty\n\nbindsym Mod4+q kill\n"
	require.Equal(t, want, doc.Content)
}

func TestMerge_Empty(t *testing.T) {
	doc := Merge(nil, nil, Options{})
	require.Empty(t, doc.Content)
	require.Equal(t, Digest(nil), doc.Digest)
}

func TestMerge_UndefinedKeptVerbatim(t *testing.T) {
	in := []fragments.Fragment{{Name: "a.conf", Content: "exec $nothing"}}
	doc := Merge(in, resolution(t, in), Options{})
	require.Equal(t, "exec $nothing\n", doc.Content)
}

func TestDigest(t *testing.T) {
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Digest([]byte{}))
	require.NotEqual(t, Digest([]byte("a")), Digest([]byte("b")))
}

func TestMerge_LineContinuation(t *testing.T) {
	in := []fragments.Fragment{
		{Name: "10-vars.conf", Content: "set $term urxvt \\\n    -e $shell\nset $shell tmux"},
		{Name: "20-keys.conf", Content: "bindsym Mod4+Return \\\n  exec $term\nbindsym Mod4+q kill"},
	}
	res := resolution(t, in)

	doc := Merge(in, res, Options{})
	want := "set $term urxvt \\\n    -e tmux\nset $shell tmux\n" +
		"bindsym Mod4+Return \\\n  exec urxvt -e tmux\nbindsym Mod4+q kill\n"
	require.Equal(t, want, doc.Content)

	doc = Merge(in, res, Options{StripDefinitions: true})
	require.Equal(t, "bindsym Mod4+Return \\\n  exec urxvt -e tmux\nbindsym Mod4+q kill\n", doc.Content)
}
