package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rrebane/salk-toolkit/internal/config"
	"github.com/rrebane/salk-toolkit/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			errObj := map[string]interface{}{
				"error": err.Error(),
			}
			if kind := errorKind(err); kind != "" {
				errObj["kind"] = kind
			}
			_ = PrintJSON(os.Stdout, errObj)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// errorKind names the typed engine error wrapped in err, if any.
func errorKind(err error) string {
	var (
		parseErr    *domain.SchemaParseError
		formatErr   *domain.UnsupportedFormatError
		transErr    *domain.TransformError
		concatErr   *domain.ConcatenationError
		readErr     *domain.ReadError
		conflictErr *domain.MigrationConflictError
	)
	switch {
	case errors.As(err, &parseErr):
		return "schema_parse"
	case errors.As(err, &formatErr):
		return "unsupported_format"
	case errors.As(err, &transErr):
		return "transform"
	case errors.As(err, &concatErr):
		return "concatenation"
	case errors.As(err, &conflictErr):
		return "migration_conflict"
	case errors.As(err, &readErr):
		return "read"
	}
	return ""
}

// session carries what PersistentPreRunE resolved to the subcommands.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	var (
		output   string
		logLevel string
		profile  string
		envFile  string
	)
	sess := &session{cfg: config.Default(), logger: slog.Default()}

	rootCmd := &cobra.Command{
		Use:           "salk",
		Short:         "Annotated survey data toolkit",
		Long:          "Reads survey data through annotation documents, infers documents for new data and migrates stored artifacts.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}

			// Load config from profile if flags/env not set
			ucfg, err := LoadUserConfig()
			if err != nil {
				// Config file is optional
				ucfg = &UserConfig{
					CurrentProfile: "default",
					Profiles:       map[string]Profile{},
				}
			}
			p, err := ucfg.ActiveProfile(profile)
			if err != nil {
				return err
			}

			// Apply precedence: flag > env > profile > default
			global := cmd.Root().PersistentFlags()
			resolveFlag(global, "output", "SALK_OUTPUT", p.Output, &output)
			if err := validateOutputFormat(output); err != nil {
				return err
			}

			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			p.apply(cfg)
			if global.Changed("log-level") {
				cfg.LogLevel = logLevel
			}

			sess.cfg = cfg
			sess.logger = newLogger(os.Stderr, cfg)
			for _, w := range cfg.Warnings {
				sess.logger.Warn(w)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&output, "output", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Read unset environment variables from this file")

	rootCmd.AddCommand(newAnnotateCmd(sess))
	rootCmd.AddCommand(newInferCmd(sess))
	rootCmd.AddCommand(newMigrateCmd(sess))
	rootCmd.AddCommand(newInspectCmd(sess))
	rootCmd.AddCommand(newValidateCmd(sess))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// resolveFlag sets *dst from the environment variable env, then from the
// profile value, unless the flag was given explicitly.
func resolveFlag(fs *pflag.FlagSet, name, env, profile string, dst *string) {
	if fs.Changed(name) {
		return
	}
	if v := os.Getenv(env); v != "" {
		*dst = v
	} else if profile != "" {
		*dst = profile
	}
}

// newLogger writes text logs to w at the configured level.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
