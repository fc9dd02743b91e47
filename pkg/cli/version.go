package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"github.com/getmockd/inbound/pkg/cli/internal/output"
	"github.com/getmockd/inbound/pkg/protocol"
)

type versionInfo struct {
	Version   string              `json:"version"`
	Commit    string              `json:"commit"`
	Date      string              `json:"date"`
	Go        string              `json:"go"`
	Platform  string              `json:"platform"`
	Protocols []protocol.Protocol `json:"protocols"`
}

// buildVersion prefers ldflags values and falls back to the VCS stamp.
func buildVersion() versionInfo {
	v := versionInfo{
		Version:  Version,
		Commit:   Commit,
		Date:     BuildDate,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
		Protocols: []protocol.Protocol{
			protocol.ProtocolGRPC,
			protocol.ProtocolMQTT,
			protocol.ProtocolWebSocket,
			protocol.ProtocolSecureWebSocket,
			protocol.ProtocolHTTPWebSocket,
		},
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	if v.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		v.Version = info.Main.Version
	}
	dirty := false
	for _, s := range info.Settings {
		switch {
		case s.Key == "vcs.revision" && v.Commit == "none":
			v.Commit = s.Value
		case s.Key == "vcs.time" && v.Date == "unknown":
			v.Date = s.Value
		case s.Key == "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty {
		v.Commit += "-dirty"
	}
	return v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show inboundd version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		v := buildVersion()
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), v)
		}
		protos := make([]string, len(v.Protocols))
		for i, p := range v.Protocols {
			protos[i] = p.String()
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "inboundd %s (%s, %s)\n", v.Version, v.Commit, v.Date)
		fmt.Fprintf(w, "%s %s\n", v.Go, v.Platform)
		fmt.Fprintf(w, "protocols: %s\n", strings.Join(protos, ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
