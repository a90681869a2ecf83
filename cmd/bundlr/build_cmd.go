package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/open-edge-platform/bundlr/internal/bundle"
	"github.com/open-edge-platform/bundlr/internal/config"
	"github.com/open-edge-platform/bundlr/internal/pipeline"
	"github.com/open-edge-platform/bundlr/internal/platform"
	"github.com/open-edge-platform/bundlr/internal/pypackage/collector"
	"github.com/open-edge-platform/bundlr/internal/pypackage/resolver"
	"github.com/open-edge-platform/bundlr/internal/pyruntime"
	"github.com/open-edge-platform/bundlr/internal/utils/logger"
	"github.com/open-edge-platform/bundlr/internal/utils/network"
	"github.com/spf13/cobra"
)

// Build command flags
var (
	targetID              string
	outputFile            string
	outputDir             string
	pythonVersion         string
	optimizeSize          bool
	optimizeSpeed         bool
	optimizeCompatibility bool
	excludeDevDeps        bool
	entryPoint            string
	allowMockDeps         bool
)

// createBuildCommand creates the build subcommand
func createBuildCommand() *cobra.Command {
	buildCmd := &cobra.Command{
		Use:   "build [flags] PACKAGE_OR_REPO_URL",
		Short: "builds a self-extracting executable for a Python package",
		Long: `Build resolves the dependencies of a package (or a git repository),
downloads the matching wheels or sources, prepares an optimized Python
runtime and writes one self-extracting executable per target platform.`,
		Args: cobra.ExactArgs(1),
		RunE: executeBuild,
	}

	buildCmd.Flags().StringVarP(&targetID, "target", "t", defaultTarget(),
		"Target platform: "+joinIDs())
	buildCmd.Flags().StringVarP(&outputFile, "output", "o", "",
		"Output file (single target only)")
	buildCmd.Flags().StringVar(&outputDir, "output-dir", "",
		"Directory for per-target outputs (default: current directory)")
	buildCmd.Flags().StringVar(&pythonVersion, "python-version", "",
		"Python version to bundle (default from configuration)")
	buildCmd.Flags().BoolVar(&optimizeSize, "optimize-size", false,
		"Strip the runtime for the smallest bundle")
	buildCmd.Flags().BoolVar(&optimizeSpeed, "optimize-speed", false,
		"Precompile the runtime for the fastest start")
	buildCmd.Flags().BoolVar(&optimizeCompatibility, "optimize-compatibility", false,
		"Keep the full runtime untouched")
	buildCmd.Flags().BoolVar(&excludeDevDeps, "exclude-dev-deps", false,
		"Drop development-only dependencies")
	buildCmd.Flags().StringVar(&entryPoint, "entry-point", "",
		"Python code to run instead of 'python -m <package>'")
	buildCmd.Flags().BoolVar(&allowMockDeps, "allow-mock-deps", false,
		"Fall back to placeholder dependencies when the resolver is unavailable")
	buildCmd.MarkFlagsMutuallyExclusive("optimize-size", "optimize-speed", "optimize-compatibility")
	buildCmd.MarkFlagsMutuallyExclusive("output", "output-dir")
	return buildCmd
}

func defaultTarget() string {
	if host := platform.Host(); host != platform.All {
		return host.String()
	}
	return platform.LinuxX86_64.String()
}

func joinIDs() string {
	ids := platform.IDs()
	out := ids[0]
	for _, id := range ids[1:] {
		out += ", " + id
	}
	return out
}

func selectedOptimizeLevel() pyruntime.OptimizeLevel {
	switch {
	case optimizeSize:
		return pyruntime.Size
	case optimizeSpeed:
		return pyruntime.Speed
	case optimizeCompatibility:
		return pyruntime.Compatibility
	default:
		return pyruntime.Balanced
	}
}

// executeBuild handles the build command execution logic
func executeBuild(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	cfg := config.GlConfig

	target, err := platform.Parse(targetID)
	if err != nil {
		return err
	}
	version := pythonVersion
	if version == "" {
		version = cfg.Runtime.DefaultPython
	}

	p, err := newPipeline(cfg, pipeline.Request{
		Ref:           args[0],
		Target:        target,
		Output:        outputFile,
		OutputDir:     outputDir,
		PythonVersion: version,
		Optimize:      selectedOptimizeLevel(),
		ExcludeDev:    excludeDevDeps,
		EntryPoint:    entryPoint,
	})
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	results := p.Execute()
	if logger.FetchedReport.Len() > 0 {
		if workDir, err := config.WorkDir(); err == nil {
			logger.ReportPath = filepath.Join(workDir, "reports")
		}
		if path, err := logger.FetchedReport.Flush(target.String()); err != nil {
			log.Warnf("could not write fetched-assets report: %v", err)
		} else {
			log.Infof("fetched-assets report written to %s", path)
		}
	}

	failed := printResults(cmd, results)
	if failed > 0 {
		return fmt.Errorf("%d of %d targets failed", failed, len(results))
	}
	return nil
}

// newPipeline wires the production components from cfg.
func newPipeline(cfg *config.GlobalConfig, req pipeline.Request) (*pipeline.Pipeline, error) {
	dl := network.NewClient(cfg.Network.MaxRetries, cfg.Network.Backoff())

	res, err := resolver.New(cfg, dl, allowMockDeps || cfg.Resolver.AllowMock)
	if err != nil {
		return nil, fmt.Errorf("initializing resolver: %w", err)
	}
	col, err := collector.New(cfg, dl, req.PythonVersion)
	if err != nil {
		return nil, fmt.Errorf("initializing collector: %w", err)
	}
	emb, err := pyruntime.NewEmbedder(cfg, dl)
	if err != nil {
		return nil, fmt.Errorf("initializing runtime embedder: %w", err)
	}
	gen, err := bundle.NewGenerator(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing bundle generator: %w", err)
	}
	wd, _ := os.Getwd()
	return &pipeline.Pipeline{
		Request:    req,
		Resolver:   res,
		Collector:  col,
		Embedder:   emb,
		Generator:  gen,
		WorkingDir: wd,
	}, nil
}

// printResults writes a summary table and returns the number of failures.
func printResults(cmd *cobra.Command, results []pipeline.BuildResult) int {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tSTATUS\tSIZE\tTIME\tPATH")
	failed := 0
	for _, r := range results {
		status := "ok"
		if !r.OK() {
			status = "failed (" + string(r.Failure.Stage) + ")"
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.Target, status, r.Size, r.Duration.Round(1e6), r.Path)
	}
	w.Flush()
	return failed
}
