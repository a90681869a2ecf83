package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/open-edge-platform/bundlr/internal/bundle"
	"github.com/spf13/cobra"
)

var inspectFormat string // "text" | "json"

// createInspectCommand creates the inspect subcommand
func createInspectCommand() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect [flags] BUNDLE",
		Short: "shows the payload and metadata of a bundle without running it",
		Args:  cobra.ExactArgs(1),
		RunE:  executeInspect,
	}
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "text",
		"Output format: text or json")
	return inspectCmd
}

func executeInspect(cmd *cobra.Command, args []string) error {
	ins, err := bundle.Inspect(args[0])
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", args[0], err)
	}
	out := cmd.OutOrStdout()

	switch strings.ToLower(inspectFormat) {
	case "json":
		data, err := json.MarshalIndent(ins, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	case "text":
		m := ins.Metadata
		fmt.Fprintf(out, "Bundle:        %s (%d bytes)\n", ins.Path, ins.Size)
		if ins.Trailer != nil {
			fmt.Fprintf(out, "Payload:       %d bytes at offset %d, sha256 %s\n", ins.Length, ins.Offset, ins.Trailer.Digest())
		} else {
			fmt.Fprintf(out, "Payload:       %d bytes at offset %d (no trailer)\n", ins.Length, ins.Offset)
		}
		fmt.Fprintf(out, "Package:       %s\n", m.PackageName)
		fmt.Fprintf(out, "Python:        %s\n", m.PythonVersion)
		fmt.Fprintf(out, "Target:        %s\n", m.TargetPlatform)
		fmt.Fprintf(out, "Built:         %d by bundlr %s (build %s)\n", m.BuildTimestamp, m.BundlrVersion, m.BuildID)
		if m.EntryPoint != nil {
			fmt.Fprintf(out, "Entry point:   %s\n", *m.EntryPoint)
		}
		if m.MockDependencies {
			fmt.Fprintln(out, "Dependencies:  placeholder (mock resolution)")
		}
		fmt.Fprintf(out, "Assets:        %d\n", len(m.Assets))
		for _, a := range m.Assets {
			fmt.Fprintf(out, "  %s\n", a)
		}
		if len(m.UnbuiltSources) > 0 {
			fmt.Fprintf(out, "Not installed: %s (source distributions)\n", strings.Join(m.UnbuiltSources, ", "))
		}
	default:
		return fmt.Errorf("unsupported format %q", inspectFormat)
	}
	return nil
}
