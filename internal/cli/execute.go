package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/spf13/cobra"
	"github.com/triage-ai/blinkguard/internal/execution"
)

type executeFlags struct {
	component     int
	params        []string
	keypair       string
	rpcURL        string
	confirmWait   time.Duration
	ignoreWarning bool
}

func newExecuteCommand(opts *Options) *cobra.Command {
	var f executeFlags

	cmd := &cobra.Command{
		Use:   "execute <url>",
		Short: "Run a blink component end to end: request, sign, send and confirm",
		Long: "Resolves the link, checks it against the security policy, requests the\n" +
			"component's transaction for the keypair's account, signs and sends it,\n" +
			"and waits for confirmation. Every state change is printed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(cmd, opts, &f, args[0])
		},
	}

	cmd.Flags().IntVar(&f.component, "component", 0, "Index of the component to execute")
	cmd.Flags().StringArrayVar(&f.params, "param", nil, "Parameter value as name=value (repeatable)")
	cmd.Flags().StringVar(&f.keypair, "keypair", "", "Path to a solana-keygen keypair file")
	cmd.Flags().StringVar(&f.rpcURL, "rpc", rpc.MainNetBeta_RPC, "Solana JSON-RPC endpoint")
	cmd.Flags().DurationVar(&f.confirmWait, "confirm-timeout", execution.DefaultConfirmTimeout, "How long to wait for confirmation")
	cmd.Flags().BoolVar(&f.ignoreWarning, "ignore-warning", false, "Proceed past a malicious warning the security policy still admits (e.g. --security-level all); unknown blinks blocked by the policy stay blocked")
	return cmd
}

func runExecute(cmd *cobra.Command, opts *Options, f *executeFlags, link string) error {
	params, err := parseParams(f.params)
	if err != nil {
		return err
	}

	s, err := opts.newSession()
	if err != nil {
		return err
	}
	defer func() { _ = s.logger.Sync() }()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	v, err := s.evaluate(ctx, link)
	if err != nil {
		return err
	}
	printVerdict(out, v)

	cfg := execution.Config{
		Snapshot: s.evaluator.SnapshotFunc(v.target(), s.policy),
		Levels:   s.policy.Levels,
		Chain: execution.NewSolanaChain(execution.SolanaChainConfig{
			RPCURL:  f.rpcURL,
			Timeout: f.confirmWait,
			Logger:  s.logger,
		}),
		Logger: s.logger,
		OnTransition: func(from, to execution.State, ev execution.Event) {
			fmt.Fprintf(out, "%-10s %s -> %s\n", ev.Name(), from.Status, to.Status)
		},
	}
	if f.keypair != "" {
		wallet, err := execution.LoadKeypairFile(f.keypair)
		if err != nil {
			return err
		}
		cfg.Wallet = wallet
		fmt.Fprintf(out, "Account:        %s\n", wallet.PublicKey())
	}

	exec := execution.NewExecutor(ctx, cfg)
	if exec.State().Status == execution.StatusBlocked {
		// Execute re-checks the policy, so only admitted snapshots unblock.
		if !f.ignoreWarning || !v.Allowed || v.Disclaimer == nil || !v.Disclaimer.Ignorable {
			return execution.ErrBlocked
		}
		exec.Unblock()
	}

	a, err := s.fetchAction(ctx, v.Resolution.ActionURL)
	if err != nil {
		return err
	}
	if a.Disabled() {
		return fmt.Errorf("action %q is disabled", a.Title())
	}
	component := a.Component(f.component)
	if component == nil {
		return fmt.Errorf("component %d out of range (action has %d)", f.component, len(a.Components()))
	}
	fmt.Fprintf(out, "Executing:      [%d] %s\n", f.component, component.Label())

	st, err := exec.Execute(ctx, component, params)
	if err != nil {
		return err
	}

	switch st.Status {
	case execution.StatusSuccess:
		msg := st.SuccessMessage
		if msg == "" {
			msg = "Transaction confirmed"
		}
		fmt.Fprintln(out, msg)
		return nil
	case execution.StatusError:
		return errors.New(st.ErrorMessage)
	case execution.StatusBlocked:
		return execution.ErrBlocked
	default:
		if st.ErrorMessage != "" {
			return errors.New(st.ErrorMessage)
		}
		if cfg.Wallet == nil {
			return fmt.Errorf("%w: pass --keypair", execution.ErrWalletNotConnected)
		}
		return errors.New("transaction was not sent")
	}
}

// parseParams turns repeated name=value flags into a map.
func parseParams(raw []string) (map[string]string, error) {
	params := make(map[string]string, len(raw))
	for _, p := range raw {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --param %q: want name=value", p)
		}
		params[name] = value
	}
	return params, nil
}
