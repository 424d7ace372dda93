package variables

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/i3configger/internal/config"
	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
	"git.home.luguber.info/inful/i3configger/internal/fragments"
)

func frag(name, content string) fragments.Fragment {
	return fragments.Fragment{Name: name, Path: "/d/" + name, OrderKey: name, Content: content}
}

func resolve(t *testing.T, opts []Option, frags ...fragments.Fragment) *Resolution {
	t.Helper()
	res, err := NewResolver(DefaultSyntax(), opts...).Resolve(frags)
	require.NoError(t, err)
	return res
}

func TestResolve_Substitution(t *testing.T) {
	res := resolve(t, nil,
		frag("10-vars.conf", "set $mod Mod4"),
		frag("20-keys.conf", "bindsym $mod+Return exec term"),
	)
	require.Equal(t, "Mod4", res.Values["mod"])
	require.Equal(t, "bindsym Mod4+Return exec term", res.Expand("bindsym $mod+Return exec term"))
}

func TestResolve_Chained(t *testing.T) {
	res := resolve(t, nil, frag("a.conf", "set $a 1\nset $b $a$a\nset $c [$b]"))
	require.Equal(t, "1", res.Values["a"])
	require.Equal(t, "11", res.Values["b"])
	require.Equal(t, "[11]", res.Values["c"])
}

func TestResolve_ForwardReferenceAcrossFragments(t *testing.T) {
	res := resolve(t, nil,
		frag("10-a.conf", "set $term $terminal -e"),
		frag("20-b.conf", "set $terminal alacritty"),
	)
	require.Equal(t, "alacritty -e", res.Values["term"])
}

func cycleOf(t *testing.T, ce *ferrors.ClassifiedError) string {
	t.Helper()
	cycle, ok := ce.Context().GetString("cycle")
	require.True(t, ok)
	return cycle
}

func TestResolve_Cycle(t *testing.T) {
	_, err := NewResolver(DefaultSyntax()).Resolve([]fragments.Fragment{
		frag("a.conf", "set $x $y"),
		frag("b.conf", "set $y $x"),
	})
	require.Error(t, err)
	require.True(t, ferrors.HasCode(err, ferrors.CodeCyclicVariable))
	ce, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	require.Equal(t, "x -> y -> x", cycleOf(t, ce))
	require.Contains(t, err.Error(), "x -> y -> x")
}

func TestResolve_LongCycleReportsPath(t *testing.T) {
	_, err := NewResolver(DefaultSyntax()).Resolve([]fragments.Fragment{
		frag("a.conf", "set $a ok\nset $b $c\nset $c $d\nset $d $b"),
	})
	ce, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	require.Equal(t, "b -> c -> d -> b", cycleOf(t, ce))
}

func TestResolve_SelfReference(t *testing.T) {
	_, err := NewResolver(DefaultSyntax()).Resolve([]fragments.Fragment{frag("a.conf", "set $x $x")})
	ce, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	require.Equal(t, ferrors.CodeCyclicVariable, ce.Code())
	require.Equal(t, "x -> x", cycleOf(t, ce))
}

func TestResolve_DeepChainIsIterative(t *testing.T) {
	const depth = 20000
	var sb strings.Builder
	for i := 0; i < depth; i++ {
		fmt.Fprintf(&sb, "set $v%d $v%d\n", i, i+1)
	}
	fmt.Fprintf(&sb, "set $v%d end", depth)
	res := resolve(t, nil, frag("deep.conf", sb.String()))
	require.Equal(t, "end", res.Values["v0"])
}

func TestResolve_LastWriterWins(t *testing.T) {
	res := resolve(t, nil,
		frag("10-a.conf", "set $color red"),
		frag("20-b.conf", "set $color blue"),
	)
	require.Equal(t, "blue", res.Values["color"])
	require.Len(t, res.Overrides, 1)
	require.Equal(t, "10-a.conf", res.Overrides[0].Previous.Fragment)
	require.Equal(t, "20-b.conf", res.Overrides[0].Current.Fragment)
	require.Equal(t, 1, res.Overrides[0].Current.Line)
}

func TestResolve_ConfigOverridesAppliedLast(t *testing.T) {
	res := resolve(t, []Option{WithOverrides(map[string]string{"color": "green", "extra": "$color!"})},
		frag("10-a.conf", "set $color red"),
	)
	require.Equal(t, "green", res.Values["color"])
	require.Equal(t, "green!", res.Values["extra"])
	require.Equal(t, ConfigSource, res.Bindings["color"].Fragment)
	require.Len(t, res.Overrides, 1)
}

func TestResolve_OverrideBreaksCycle(t *testing.T) {
	res := resolve(t, []Option{WithOverrides(map[string]string{"x": "fixed"})},
		frag("a.conf", "set $x $y\nset $y $x"),
	)
	require.Equal(t, "fixed", res.Values["y"])
}

func TestResolve_Undefined(t *testing.T) {
	frags := []fragments.Fragment{frag("a.conf", "set $a 1\nexec $missing $a\n# $ignored in comment")}

	res := resolve(t, nil, frags...)
	require.Equal(t, []string{"missing"}, res.Undefined)
	require.Equal(t, "exec $missing 1", res.ExpandLine("exec $missing $a"))

	_, err := NewResolver(DefaultSyntax(), WithUndefinedPolicy(config.UndefinedError)).Resolve(frags)
	require.True(t, ferrors.HasCode(err, ferrors.CodeUndefinedVariable))
	require.Contains(t, err.Error(), "missing")
}

func TestResolve_LongestPrefixMatch(t *testing.T) {
	res := resolve(t, nil, frag("a.conf", "set $ws1 one\nset $ws10 ten"))
	require.Equal(t, "ten one", res.Expand("$ws10 $ws1"))
	require.Equal(t, "one2", res.Expand("$ws12"))
}

func TestExpandLine(t *testing.T) {
	res := resolve(t, nil, frag("a.conf", "set $mod Mod4\nset $alt $mod+Shift"))

	require.Equal(t, "set $alt Mod4+Shift", res.ExpandLine("set $alt $mod+Shift"))
	require.Equal(t, "  set $mod Mod4", res.ExpandLine("  set $mod Mod4"))
	require.Equal(t, "# uses $mod", res.ExpandLine("# uses $mod"))
	require.Equal(t, "", res.ExpandLine(""))
	require.Equal(t, "bindsym Mod4+Shift+q kill", res.ExpandLine("bindsym $alt+q kill"))
	require.True(t, res.IsDefinition("set $mod Mod4"))
	require.False(t, res.IsDefinition("bindsym $mod+q kill"))
}

func TestCustomSyntax(t *testing.T) {
	syntax := Syntax{Keyword: "define", Sigil: "@"}
	res, err := NewResolver(syntax).Resolve([]fragments.Fragment{frag("a.conf", "define @gap 10\ngaps inner @gap")})
	require.NoError(t, err)
	require.Equal(t, "gaps inner 10", res.ExpandLine("gaps inner @gap"))
	require.Equal(t, "gaps $gap", res.ExpandLine("gaps $gap"))
}

func TestParseDefinition(t *testing.T) {
	s := DefaultSyntax()
	tests := []struct {
		line string
		ok   bool
		name string
		val  string
	}{
		{"set $mod Mod4", true, "mod", "Mod4"},
		{"\tset  $bg-color   #285577  ", true, "bg-color", "#285577"},
		{"set $empty", true, "empty", ""},
		{"settings $x y", false, "", ""},
		{"set mod Mod4", false, "", ""},
		{"set $ Mod4", false, "", ""},
		{"set $a+b c", false, "", ""},
		{"# set $mod Mod4", false, "", ""},
	}
	for _, tt := range tests {
		def, ok := s.ParseDefinition(tt.line)
		require.Equal(t, tt.ok, ok, tt.line)
		require.Equal(t, tt.name, def.Name, tt.line)
		require.Equal(t, tt.val, def.Value, tt.line)
	}
}

func TestResolve_LineContinuation(t *testing.T) {
	res := resolve(t, nil, frag("10-vars.conf", "# terminal\nset $term urxvt \\\n    -e tmux\nset $mod Mod4"))
	require.Equal(t, "urxvt -e tmux", res.Values["term"])
	require.Equal(t, 2, res.Bindings["term"].Line)
	require.Equal(t, 4, res.Bindings["mod"].Line)
	require.Empty(t, res.Undefined)
}

func TestJoinContinuations(t *testing.T) {
	lines := JoinContinuations("a \\\n  b\\\n\tc\nd\ntrailing \\")
	require.Len(t, lines, 3)
	require.Equal(t, "a b c", lines[0].Text)
	require.Equal(t, []string{"a \\", "  b\\", "\tc"}, lines[0].Physical)
	require.Equal(t, 1, lines[0].Line)
	require.Equal(t, LogicalLine{Text: "d", Physical: []string{"d"}, Line: 4}, lines[1])
	require.Equal(t, "trailing \\", lines[2].Text)
}
