// Package cli implements the sdlq command line interface: submitting
// power queries, inspecting the local run history, and managing
// connection profiles.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"sdlq/internal/config"
	"sdlq/internal/logredact"
	"sdlq/internal/sdl"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			errObj := map[string]any{
				"error": err.Error(),
			}
			var statusErr *sdl.StatusError
			if errors.As(err, &statusErr) {
				errObj["status"] = statusErr.StatusCode
			}
			_ = printJSON(os.Stdout, errObj)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// session carries the connection values resolved by the root command's
// precedence chain: flag over environment over profile.
type session struct {
	baseURL string
	token   string
}

// settings merges the session values over the environment configuration
// and validates that the service is reachable with the result.
func (s *session) settings() (*config.Config, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if s.baseURL != "" {
		normalized, err := config.NormalizeBaseURL(s.baseURL)
		if err != nil {
			return nil, err
		}
		cfg.BaseURL = normalized
	}
	if s.token != "" {
		cfg.AuthToken = config.NormalizeAuthToken(s.token)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// cliLogger builds the stderr logger used while a command runs. The auth
// token is registered for redaction before anything can log it.
func cliLogger(cfg *config.Config) *slog.Logger {
	registry := logredact.NewRegistry()
	registry.Register(cfg.AuthToken)
	handler := logredact.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
		registry,
	)
	return slog.New(handler)
}

func newRootCmd() *cobra.Command {
	var (
		baseURL string
		token   string
		output  string
		profile string
	)

	sess := &session{}

	rootCmd := &cobra.Command{
		Use:           "sdlq",
		Short:         "Search data lake query CLI",
		Long:          "Command-line client for the search data lake asynchronous query service.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				// The config file is optional.
				cfg = defaultUserConfig()
			}

			p, err := cfg.ActiveProfile(profile)
			if err != nil {
				return err
			}

			// Precedence: flag > environment > profile > default.
			if !cmd.Flags().Changed("base-url") {
				if v := os.Getenv("SDLQ_BASE_URL"); v != "" {
					baseURL = v
				} else if p.BaseURL != "" {
					baseURL = p.BaseURL
				}
			}
			if !cmd.Flags().Changed("token") {
				if v := os.Getenv("SDLQ_AUTH_TOKEN"); v != "" {
					token = v
				} else if p.Token != "" {
					token = p.Token
				}
			}
			if !cmd.Flags().Changed("output") {
				if v := os.Getenv("SDLQ_OUTPUT"); v != "" {
					output = v
				} else if p.Output != "" {
					output = p.Output
				}
			}
			if err := validateOutputFormat(output); err != nil {
				return err
			}

			sess.baseURL = baseURL
			sess.token = token
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Query service base URL (https)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "API auth token")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Config profile to use")

	rootCmd.AddCommand(newRunCmd(sess))
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newCommandsCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
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
}
