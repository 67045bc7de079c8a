// Package cli implements blinkctl, a command line client that resolves,
// inspects and executes blinks under a local security policy.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/triage-ai/blinkguard/internal/registry"
)

// Options holds the global flags shared by every command.
type Options struct {
	RegistryURL   string
	PolicyPath    string
	SecurityLevel string
	LogLevel      string
	Timeout       time.Duration
}

// NewRootCmd wires the cobra root command.
func NewRootCmd() *cobra.Command {
	opts := &Options{}

	root := &cobra.Command{
		Use:           "blinkctl",
		Short:         "Resolve, inspect and execute Solana blinks",
		Long:          "blinkctl resolves blink links to action endpoints, checks them against the\nactions security registry and a local policy, and executes their transactions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.RegistryURL, "registry-url", registry.DefaultURL, "Actions security registry URL")
	pf.StringVar(&opts.PolicyPath, "policy", "", "Path to a security policy YAML file")
	pf.StringVar(&opts.SecurityLevel, "security-level", "", "Override the policy level for every category (only-trusted|non-malicious|all)")
	pf.StringVar(&opts.LogLevel, "log-level", "warn", "Log level (debug|info|warn|error)")
	pf.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "HTTP timeout for registry and action requests")

	root.AddCommand(
		newResolveCommand(opts),
		newInspectCommand(opts),
		newExecuteCommand(opts),
		newRegistryCommand(opts),
	)
	return root
}

// Execute runs the root command and exits non-zero on error.
func Execute(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
