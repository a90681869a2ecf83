package main

import (
	"fmt"
	"strings"

	"github.com/open-edge-platform/bundlr/internal/platform"
	"github.com/open-edge-platform/bundlr/internal/pypackage/wheel"
	"github.com/open-edge-platform/bundlr/internal/utils/system"
	"github.com/spf13/cobra"
)

var showAllTags bool

// createTargetsCommand creates the targets subcommand
func createTargetsCommand() *cobra.Command {
	targetsCmd := &cobra.Command{
		Use:   "targets",
		Short: "lists supported target platforms",
		Args:  cobra.NoArgs,
		RunE:  executeTargets,
	}
	targetsCmd.Flags().BoolVar(&showAllTags, "tags", false,
		"Show every accepted wheel platform tag in priority order")
	return targetsCmd
}

func executeTargets(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	host := platform.Host()
	for _, t := range platform.Concrete() {
		marker := ""
		if t == host {
			marker = " (host)"
		}
		tags := wheel.PlatformTags(t)
		fmt.Fprintf(out, "%-16s %-28s%s\n", t, t.Triple(), marker)
		if showAllTags {
			fmt.Fprintf(out, "    %s\n", strings.Join(tags, " "))
		} else {
			fmt.Fprintf(out, "    preferred wheel tag: %s\n", tags[0])
		}
	}

	if info, err := system.GetHostOsInfo(); err == nil {
		fmt.Fprintf(out, "\nhost: %s %s %s\n", info["name"], info["version"], info["arch"])
	}
	for _, tool := range system.DetectTools("go", "tar", "uv", "git") {
		status := "not found"
		if tool.Found() {
			status = tool.Path
			if tool.Version != "" {
				status += " (" + tool.Version + ")"
			}
		}
		fmt.Fprintf(out, "  %-4s %s\n", tool.Name, status)
	}
	return nil
}
