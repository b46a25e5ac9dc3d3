package version

import (
	"bytes"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// TestVersionStrings ensures Short and Full return consistent information.
func TestVersionStrings(t *testing.T) {
	t.Parallel()

	require.NotEmpty(t, Short())
	require.Contains(t, Full(), Short())
	require.Contains(t, Full(), Get().GoVersion)
}

func TestFromBuildInfo(t *testing.T) {
	t.Parallel()

	defaults := Info{Version: "dev", Commit: "none", BuildTime: "unknown"}

	got := fromBuildInfo(defaults, &debug.BuildInfo{
		Main: debug.Module{Version: "v1.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2025-06-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})
	require.Equal(t, "v1.4.0", got.Version)
	require.Equal(t, "0123456-dirty", got.Commit)
	require.Equal(t, "2025-06-01T10:00:00Z", got.BuildTime)

	injected := Info{Version: "2.0.0", Commit: "abc1234", BuildTime: "today"}
	got = fromBuildInfo(injected, &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "ffffffffff"}},
	})
	require.Equal(t, injected, got)
}

func TestAttachCobraVersionCommand(t *testing.T) {
	t.Parallel()

	root := &cobra.Command{Use: "imgcast"}
	AttachCobraVersionCommand(root)

	var out bytes.Buffer

	root.SetOut(&out)
	root.SetArgs([]string{"version", "--short"})
	require.NoError(t, root.Execute())
	require.Equal(t, Short(), strings.TrimSpace(out.String()))
}
