package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"hypogate/domain/core"
	"hypogate/domain/gate"
	"hypogate/domain/outcome"
	"hypogate/internal"
	"hypogate/internal/config"
	"hypogate/internal/container"
	gatesvc "hypogate/internal/gate"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "hypogate-cli",
		Short:         "Operate the hypothesis promotion gate",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newEvaluateCmd(),
		newRecordCmd(),
		newAuditsCmd(),
		newEligibilityCmd(),
		newFamilyRiskCmd(),
		newGovernanceCmd("unlock", "Clear one eligibility gate", false),
		newGovernanceCmd("block", "Set one eligibility gate", true),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withContainer loads configuration, builds the services and runs fn
func withContainer(ctx context.Context, fn func(ctx context.Context, c *container.Container) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := internal.NewConsoleLogger(cfg.LogLevel)
	c, err := container.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := c.Init(ctx); err != nil {
		return err
	}
	defer c.Shutdown()
	return fn(ctx, c)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newEvaluateCmd() *cobra.Command {
	var hypothesisID string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one hypothesis or run the full batch",
		Long: `Evaluate runs the promotion gate. Without --hypothesis every evaluable
hypothesis is processed, exactly like a scheduled run.

Example: hypogate-cli evaluate --hypothesis 0190a6b2-...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				if hypothesisID == "" {
					report, err := c.Gate.RunBatch(ctx)
					if err != nil {
						return err
					}
					return printJSON(report)
				}
				id, err := core.ParseHypothesisID(hypothesisID)
				if err != nil {
					return err
				}
				res, err := c.Gate.Evaluate(ctx, id)
				if printErr := printJSON(res); printErr != nil {
					return printErr
				}
				if err != nil {
					return fmt.Errorf("%s: %w", gatesvc.ErrorKind(err), err)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&hypothesisID, "hypothesis", "", "Hypothesis ID to evaluate")
	return cmd
}

func newRecordCmd() *cobra.Command {
	var triggerAt, entry, mfe, mae, end string

	cmd := &cobra.Command{
		Use:   "record [hypothesis-id]",
		Short: "Append one realized outcome to the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := core.ParseHypothesisID(args[0])
			if err != nil {
				return err
			}
			trigger, err := time.Parse(time.RFC3339, triggerAt)
			if err != nil {
				return fmt.Errorf("invalid --trigger-at format (use RFC3339): %w", err)
			}
			in := outcome.Input{HypothesisID: id, TriggerAt: trigger}
			for _, p := range []struct {
				flag string
				raw  string
				dst  *decimal.Decimal
			}{
				{"entry", entry, &in.EntryPrice},
				{"mfe", mfe, &in.MFEPrice},
				{"mae", mae, &in.MAEPrice},
				{"end", end, &in.WindowEndPrice},
			} {
				v, err := decimal.NewFromString(p.raw)
				if err != nil {
					return fmt.Errorf("invalid --%s price: %w", p.flag, err)
				}
				*p.dst = v
			}
			return withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				outcomeID, err := c.Ledger.RecordOutcome(ctx, in)
				if err != nil {
					return err
				}
				return printJSON(map[string]string{"id": outcomeID.String()})
			})
		},
	}

	cmd.Flags().StringVar(&triggerAt, "trigger-at", "", "Trigger time (RFC3339)")
	cmd.Flags().StringVar(&entry, "entry", "", "Entry price")
	cmd.Flags().StringVar(&mfe, "mfe", "", "Maximum favorable excursion price")
	cmd.Flags().StringVar(&mae, "mae", "", "Maximum adverse excursion price")
	cmd.Flags().StringVar(&end, "end", "", "Window end price")
	for _, f := range []string{"trigger-at", "entry", "mfe", "mae", "end"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newAuditsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audits [hypothesis-id]",
		Short: "List promotion audits for a hypothesis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				id := core.HypothesisID(args[0])
				if _, err := c.Registry.Get(ctx, id); err != nil {
					return err
				}
				audits, err := c.Store.ListAudits(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(audits)
			})
		},
	}
}

func newEligibilityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eligibility [hypothesis-id]",
		Short: "Show every eligibility version and the governance trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				versions, events, err := c.Governance.History(ctx, core.HypothesisID(args[0]))
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"versions": versions, "events": events})
			})
		},
	}
}

func newFamilyRiskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "family-risk [hypothesis-id]",
		Short: "Compute family inflation risk against the hypothesis' cohort",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				h, err := c.Registry.Get(ctx, core.HypothesisID(args[0]))
				if err != nil {
					return err
				}
				members, err := c.Store.ListByCohort(ctx, h.CohortID)
				if err != nil {
					return err
				}
				siblings := make([]core.HypothesisID, 0, len(members))
				for _, m := range members {
					siblings = append(siblings, m.ID)
				}
				res, err := gatesvc.NewFamilyRiskCalculator(c.Store, c.Store).Compute(ctx, h.ID, siblings)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func newGovernanceCmd(use, short string, block bool) *cobra.Command {
	var actor, reason string

	cmd := &cobra.Command{
		Use:   use + " [hypothesis-id] [gate]",
		Short: short,
		Long: fmt.Sprintf(`%s appends a new eligibility version with one gate changed and records
who did it and why. Gates: eligibility, live_capital, leverage, dependency, asset_universe.

Example: hypogate-cli %s 0190a6b2-... eligibility --actor risk-committee --reason "shadow review"`, short, use),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := gate.ParseGateName(args[1])
			if err != nil {
				return err
			}
			return withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				id := core.HypothesisID(args[0])
				var entry *gate.EligibilityEntry
				if block {
					entry, err = c.Governance.Block(ctx, id, name, actor, reason)
				} else {
					entry, err = c.Governance.Unlock(ctx, id, name, actor, reason)
				}
				if err != nil {
					return err
				}
				return printJSON(entry)
			})
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Who is making the change")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the change is made")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
