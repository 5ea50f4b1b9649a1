// Command cortex is a thin CLI wrapper around the trust core, not the core
// itself. It exits 0 on success, 1 on an argument error, 2 when the trust
// core rejects the call (a non-interactive caller), and 3 when the trust
// store is unavailable.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cortexgate/cortex"
	"github.com/cortexgate/cortex/internal/override"
)

const exitArgError = 1
const exitRejected = 2
const exitStoreUnavailable = 3

// cliError carries the exit code a failed command should exit with.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func argError(format string, args ...any) error {
	return &cliError{code: exitArgError, err: fmt.Errorf(format, args...)}
}

// newApp connects to the trust store, classifying a connection failure as
// exit code 3 rather than a generic argument error.
func newApp() (*cortex.App, error) {
	app, err := cortex.New()
	if err != nil {
		return nil, &cliError{code: exitStoreUnavailable, err: err}
	}
	return app, nil
}

// classify wraps a trust-core call error with the exit code its kind maps
// to: rejection (non-interactive caller, rate limit) is 2, anything else
// from an already-connected store is treated as an argument problem.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, override.ErrSelfEscalation) || errors.Is(err, override.ErrRateLimited) {
		return &cliError{code: exitRejected, err: err}
	}
	return &cliError{code: exitArgError, err: err}
}

// sessionIDFromEnv reads the interactive session identifier the runtime is
// expected to propagate — the CLI never invents one.
func sessionIDFromEnv() string {
	return os.Getenv("CORTEX_SESSION_ID")
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "cortex",
		Short: "Trust-gate CLI for the Cortex agent platform",
		Long:  `cortex is a thin wrapper over the trust core's Agent Hook Surface.`,
	}

	rootCmd.AddCommand(trustStatusCmd())
	rootCmd.AddCommand(trustGrantCmd())
	rootCmd.AddCommand(trustRevokeCmd())
	rootCmd.AddCommand(trustReportCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ce *cliError
		if errors.As(err, &ce) {
			os.Exit(ce.code)
		}
		os.Exit(exitArgError)
	}
}

func trustStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trust-status",
		Short: "Print the current trust score report",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			report, err := app.GenerateReport(context.Background())
			if err != nil {
				return classify(err)
			}
			fmt.Println(report)
			return nil
		},
	}
}

func trustReportCmd() *cobra.Command {
	var weekly bool
	cmd := &cobra.Command{
		Use:   "trust-report",
		Short: "Render the trust report (standard or weekly digest)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			var report string
			if weekly {
				report, err = app.WeeklyReport(context.Background())
			} else {
				report, err = app.GenerateReport(context.Background())
			}
			if err != nil {
				return classify(err)
			}
			fmt.Println(report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&weekly, "weekly", false, "render the weekly digest instead of the standard report")
	return cmd
}

func trustGrantCmd() *cobra.Command {
	var expiresIn string
	cmd := &cobra.Command{
		Use:   "trust-grant <category> <reason>",
		Short: "Grant a category-wide autonomy override",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, reason := args[0], args[1]
			sessionID := sessionIDFromEnv()
			if sessionID == "" {
				return argError("CORTEX_SESSION_ID is not set; trust-grant must run from an interactive session")
			}

			app, err := newApp()
			if err != nil {
				return err
			}
			granted, err := app.SetOverride(context.Background(), cortex.Category(category), cortex.OverrideGranted, reason, sessionID, expiresIn)
			if err != nil {
				return classify(err)
			}
			fmt.Printf("granted override for %s (expires: %s)\n", granted.Category, expiryText(granted))
			return nil
		},
	}
	cmd.Flags().StringVar(&expiresIn, "expires", "", "duration after which the override expires, e.g. 2h (default: no expiry)")
	return cmd
}

func trustRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trust-revoke",
		Short: "Emergency lockdown: revoke every active override",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			categories, err := app.RevokeAll(context.Background())
			if err != nil {
				return classify(err)
			}
			if len(categories) == 0 {
				fmt.Println("no active overrides to revoke")
				return nil
			}
			fmt.Printf("revoked %d override(s)\n", len(categories))
			return nil
		},
	}
}

func expiryText(o cortex.Override) string {
	if o.ExpiresAt == nil {
		return "never"
	}
	return o.ExpiresAt.Format("2006-01-02T15:04:05Z07:00")
}
