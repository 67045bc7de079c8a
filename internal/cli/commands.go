package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/triage-ai/blinkguard/internal/action"
	"github.com/triage-ai/blinkguard/internal/registry"
)

func newResolveCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <url>",
		Short: "Resolve a link to its action URL and print its trust classification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.newSession()
			if err != nil {
				return err
			}
			defer func() { _ = s.logger.Sync() }()

			v, err := s.evaluate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	}
}

func newInspectCommand(opts *Options) *cobra.Command {
	var (
		force  bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <url>",
		Short: "Print an action and its components",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.newSession()
			if err != nil {
				return err
			}
			defer func() { _ = s.logger.Sync() }()

			ctx := cmd.Context()
			v, err := s.evaluate(ctx, args[0])
			if err != nil {
				return err
			}

			var a *action.Action
			if v.Allowed || force {
				if a, err = s.fetchAction(ctx, v.Resolution.ActionURL); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, inspectView(v, a))
			}
			printVerdict(out, v)
			if a == nil {
				fmt.Fprintln(out, "Action not loaded: blocked by security policy (use --force to load it anyway)")
				return nil
			}
			printAction(out, a)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Load the action even when the security check fails")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	return cmd
}

func newRegistryCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "registry",
		Short: "Fetch the security registry and print its size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.newSession()
			if err != nil {
				return err
			}
			defer func() { _ = s.logger.Sync() }()

			reg, fetchedAt := s.registry.Get(cmd.Context())
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"registry_url":  opts.RegistryURL,
				"actions":       reg.Len(registry.SourceActions),
				"websites":      reg.Len(registry.SourceWebsites),
				"interstitials": reg.Len(registry.SourceInterstitials),
				"fetched_at":    fetchedAt.UTC().Format(time.RFC3339),
			})
		},
	}
}

type componentView struct {
	Index      int                `json:"index"`
	Label      string             `json:"label"`
	Kind       string             `json:"kind"`
	Href       string             `json:"href"`
	Parameters []action.Parameter `json:"parameters"`
}

type actionView struct {
	URL         string          `json:"url"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Icon        string          `json:"icon"`
	Label       string          `json:"label"`
	Disabled    bool            `json:"disabled"`
	Error       string          `json:"error,omitempty"`
	Components  []componentView `json:"components"`
}

func inspectView(v *verdict, a *action.Action) map[string]any {
	out := map[string]any{"verdict": v, "action": nil}
	if a == nil {
		return out
	}
	view := actionView{
		URL:         a.URL(),
		Title:       a.Title(),
		Description: a.Description(),
		Icon:        a.Icon(),
		Label:       a.Label(),
		Disabled:    a.Disabled(),
		Error:       a.ErrorMessage(),
	}
	for i, c := range a.Components() {
		view.Components = append(view.Components, componentView{
			Index:      i,
			Label:      c.Label(),
			Kind:       c.Kind().String(),
			Href:       c.Template(),
			Parameters: c.Parameters(),
		})
	}
	out["action"] = view
	return out
}

func printVerdict(w io.Writer, v *verdict) {
	fmt.Fprintf(w, "Action URL:     %s\n", v.Resolution.ActionURL)
	if v.Resolution.OriginURL != "" {
		fmt.Fprintf(w, "Origin:         %s (%s)\n", v.Resolution.OriginURL, v.Resolution.OriginType)
	}
	status := "allowed"
	if !v.Allowed {
		status = "blocked"
	}
	fmt.Fprintf(w, "Classification: %s (%s)\n", v.Classification, status)
	if v.Disclaimer != nil {
		fmt.Fprintf(w, "Warning:        %s (ignorable: %t)\n", v.Disclaimer.Kind, v.Disclaimer.Ignorable)
	}
}

func printAction(w io.Writer, a *action.Action) {
	fmt.Fprintf(w, "\n%s\n%s\n", a.Title(), a.Description())
	if a.Disabled() {
		fmt.Fprintln(w, "(disabled)")
	}
	if msg := a.ErrorMessage(); msg != "" {
		fmt.Fprintf(w, "Error: %s\n", msg)
	}
	fmt.Fprintln(w, "\nComponents:")
	for i, c := range a.Components() {
		fmt.Fprintf(w, "  [%d] %s (%s) %s\n", i, c.Label(), c.Kind(), c.Template())
		for _, p := range c.Parameters() {
			marker := ""
			if p.Required {
				marker = " (required)"
			}
			label := p.Label
			if label == "" {
				label = p.Name
			}
			fmt.Fprintf(w, "        --param %s=<%s>%s\n", p.Name, label, marker)
		}
	}
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
