// Package cli wires the pipeline stages to cobra commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/input-output-hk/forge-release/config"
	relerrors "github.com/input-output-hk/forge-release/errors"
	"github.com/input-output-hk/forge-release/pipeline"
)

// errReported marks failures whose summary was already printed.
var errReported = errors.New("stage failed")

type options struct {
	cfgFile  string
	logLevel string
	output   string
}

// NewRootCommand builds the forge-release command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "forge-release",
		Short: "Build, publish and register multi-platform release binaries",
		Long: `forge-release expands a build matrix from release.yaml, compiles every
target with the Go toolchain, uploads the artifacts to the bucket of the
active environment and updates the version registry.

Running without a subcommand runs the default stage: gen, fmt, then install.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd, opts, pipeline.StageDefault, args)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.cfgFile, "config", "c", "",
		"config file (default: ./release.yaml, then $XDG_CONFIG_HOME/forge-release/release.yaml)")
	pf.String("env", config.DefaultEnv, "environment selecting the bucket (FORGE_ENV)")
	pf.String("policy", "", "failure policy: fail-fast or best-effort (FORGE_POLICY)")
	pf.Int("workers", 0, "concurrent build tasks, 0 for one per CPU (FORGE_WORKERS)")
	pf.String("release-version", "", "override the version derived from git (FORGE_VERSION)")
	pf.String("dist-dir", "", "artifact output directory")
	pf.String("repo-root", "", "repository to build")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	for _, kind := range pipeline.Stages() {
		if kind == pipeline.StageDefault {
			root.AddCommand(stageCommand(opts, kind, "Run gen, fmt and install"))
			continue
		}
		root.AddCommand(stageCommand(opts, kind, stageHelp[kind]))
	}
	root.AddCommand(newInitCommand())

	return root
}

var stageHelp = map[pipeline.StageKind]string{
	pipeline.StageVersion:  "Print the build metadata",
	pipeline.StageFmt:      "Format sources with goimports and gofmt -s",
	pipeline.StageVet:      "Run go vet",
	pipeline.StageLint:     "Run golint",
	pipeline.StageGen:      "Run go generate",
	pipeline.StageBuild:    "Build every target, or only [name]",
	pipeline.StagePush:     "Upload built artifacts of every target, or only [name]",
	pipeline.StageRegistry: "Update versions.json and latest.txt for release targets, or only [name]",
	pipeline.StageRelease:  "Build, push and update the registry",
	pipeline.StageInstall:  "Run go install ./...",
}

func stageCommand(opts *options, kind pipeline.StageKind, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   kind.String(),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd, opts, kind, args)
		},
	}
	if kind.TakesTarget() {
		cmd.Use += " [name]"
		cmd.Args = cobra.MaximumNArgs(1)
	}
	switch kind {
	case pipeline.StageVersion:
		cmd.Flags().StringVarP(&opts.output, "output", "o", string(pipeline.FormatEnv), "output format: env, json or yaml")
	case pipeline.StageRegistry:
		cmd.Aliases = []string{"update-registry"}
	}
	return cmd
}

func runStage(cmd *cobra.Command, opts *options, kind pipeline.StageKind, args []string) error {
	logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel)
	if err != nil {
		return err
	}

	file, path, err := config.Load(config.LoadOptions{ConfigFile: opts.cfgFile, Flags: cmd.Flags()})
	if err != nil {
		return err
	}
	logger.Debug("configuration loaded", "path", path)

	cfg, err := config.Build(file)
	if err != nil {
		return err
	}

	format, err := pipeline.ParseOutputFormat(opts.output)
	if err != nil {
		return err
	}

	runner := pipeline.New(cfg,
		pipeline.WithLogger(logger),
		pipeline.WithOutput(cmd.OutOrStdout()),
		pipeline.WithVersionFormat(format),
	)
	summary, err := runner.RunStage(cmd.Context(), kind, args)
	if err != nil {
		summary.WriteReport(cmd.ErrOrStderr())
		if len(summary.Results) == 0 {
			return err
		}
		return fmt.Errorf("%w: %w", errReported, err)
	}
	return nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, relerrors.Newf(relerrors.CodeInvalidInput, "unknown log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

func newInitCommand() *cobra.Command {
	var user bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write an example release.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.FileName
			switch {
			case len(args) == 1:
				path = args[0]
			case user:
				p, err := config.UserConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&user, "user", false, "write to the per-user config directory")
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// Main is Execute over the process arguments and standard streams.
func Main(ctx context.Context) int {
	return Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
}
