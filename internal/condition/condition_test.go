package condition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/stagehand/internal/trigger"
)

func TestCompile_RejectsMalformedPatterns(t *testing.T) {
	t.Parallel()

	for _, pattern := range []string{"", "v1.2/3", "v *", "release!"} {
		_, err := Compile(pattern)
		require.Error(t, err, "pattern %q should not compile", pattern)
	}
}

func TestEligible_TagPattern(t *testing.T) {
	t.Parallel()

	cond, err := Compile("v*.*.*")
	require.NoError(t, err)

	cases := []struct {
		name string
		tc   trigger.Context
		want bool
	}{
		{"matching tag", trigger.Context{Kind: trigger.Tag, Ref: "v1.2.3", Tag: "v1.2.3"}, true},
		{"multi digit groups", trigger.Context{Kind: trigger.Tag, Ref: "v10.20.30", Tag: "v10.20.30"}, true},
		{"non numeric group", trigger.Context{Kind: trigger.Tag, Ref: "v1.2.x", Tag: "v1.2.x"}, false},
		{"missing group", trigger.Context{Kind: trigger.Tag, Ref: "v1.2", Tag: "v1.2"}, false},
		{"trailing garbage", trigger.Context{Kind: trigger.Tag, Ref: "v1.2.3-rc1", Tag: "v1.2.3-rc1"}, false},
		{"branch push with tag-like name", trigger.Context{Kind: trigger.Push, Ref: "v1.2.3"}, false},
		{"default branch push", trigger.Context{Kind: trigger.Push, Ref: "main", DefaultBranch: true}, false},
		{"manual run", trigger.Context{Kind: trigger.Manual, Ref: "main"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, cond.Eligible(tc.tc))
		})
	}
}

func TestEligible_AlwaysCondition(t *testing.T) {
	t.Parallel()

	require.True(t, Always.Eligible(trigger.Context{Kind: trigger.Push, Ref: "main"}))
	require.True(t, Always.Eligible(trigger.Context{Kind: trigger.Tag, Tag: "v1.0.0"}))
	require.Empty(t, Always.Pattern())
}

func TestEligible_LiteralPattern(t *testing.T) {
	t.Parallel()

	cond, err := Compile("release-*")
	require.NoError(t, err)
	require.True(t, cond.Eligible(trigger.Context{Kind: trigger.Tag, Tag: "release-7"}))
	require.False(t, cond.Eligible(trigger.Context{Kind: trigger.Tag, Tag: "release-"}))
}
