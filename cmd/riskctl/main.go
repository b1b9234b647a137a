// Command riskctl evaluates a lending portfolio described in a YAML file
// with the same engine the lending service uses.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/atmx/lending-risk/internal/model"
	"github.com/atmx/lending-risk/internal/risk"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "riskctl",
		Short:        "Evaluate lending portfolio risk",
		SilenceUsage: true,
	}
	var file string
	root.PersistentFlags().StringVarP(&file, "file", "f", "portfolio.yaml", "portfolio YAML file")
	root.SetOut(out)

	load := func() (*portfolio, error) { return loadPortfolio(file) }

	root.AddCommand(evaluateCmd(load))
	root.AddCommand(stressCmd(load))
	root.AddCommand(solveCmd(load))
	root.AddCommand(simulateCmd(load))
	return root
}

type loader func() (*portfolio, error)

func evaluateCmd(load loader) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Print the account summary, tier and advice",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := parsePositive("target", target)
			if err != nil {
				return err
			}
			p, err := load()
			if err != nil {
				return err
			}
			a := p.evaluate()
			symbols := make([]string, 0, len(p.supplies)+len(p.borrows))
			for _, s := range p.supplies {
				symbols = append(symbols, s.Reserve.Symbol)
			}
			for _, b := range p.borrows {
				symbols = append(symbols, b.Reserve.Symbol)
			}
			return writeJSON(cmd.OutOrStdout(), struct {
				risk.Account
				HealthFactorDisplay string   `json:"health_factor_display"`
				Color               string   `json:"color"`
				Message             string   `json:"message"`
				Advice              string   `json:"advice"`
				MissingPrices       []string `json:"missing_prices,omitempty"`
			}{
				Account:             a,
				HealthFactorDisplay: a.HealthFactor.StringFixed(2),
				Color:               a.Tier.Color(),
				Message:             a.Tier.Message(),
				Advice:              risk.Advice(a, t),
				MissingPrices:       p.prices.Missing(symbols...),
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", risk.DefaultTargetHF().String(), "target health factor for advice")
	return cmd
}

func stressCmd(load loader) *cobra.Command {
	var shocks []string
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Re-evaluate the account under uniform price shocks",
		Example: `  riskctl stress -f portfolio.yaml
  riskctl stress --shock -0.1 --shock -0.4`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var parsed []decimal.Decimal
			for _, s := range shocks {
				v, err := decimal.NewFromString(s)
				if err != nil {
					return fmt.Errorf("invalid shock %q: %w", s, err)
				}
				parsed = append(parsed, v)
			}
			p, err := load()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(),
				risk.StressTestHF(p.supplies, p.borrows, p.prices, parsed, p.previous))
		},
	}
	cmd.Flags().StringArrayVar(&shocks, "shock", nil, "price shock as a fraction, e.g. -0.2 (repeatable; default -0.2 -0.3 -0.5)")
	return cmd
}

func solveCmd(load loader) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Compute the repayment or extra collateral needed to reach a target HF",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := parsePositive("target", target)
			if err != nil {
				return err
			}
			p, err := load()
			if err != nil {
				return err
			}
			a := p.evaluate()
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"target_hf":          t,
				"health_factor":      a.HealthFactor,
				"repay_usd":          risk.RepayToTargetHF(a.CollateralUSD, a.LiqThresholdWeighted, a.DebtUSD, t),
				"add_collateral_usd": risk.AddCollateralToTargetHF(a.CollateralUSD, a.LiqThresholdWeighted, a.DebtUSD, t),
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", risk.DefaultTargetHF().String(), "target health factor")
	return cmd
}

func simulateCmd(load loader) *cobra.Command {
	var action, amount string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Project and validate an action worth a USD amount",
		RunE: func(cmd *cobra.Command, _ []string) error {
			act := model.Action(action)
			if !act.Valid() {
				return fmt.Errorf("unknown action %q (supply, withdraw, borrow, repay)", action)
			}
			usd, err := parsePositive("amount-usd", amount)
			if err != nil {
				return err
			}
			p, err := load()
			if err != nil {
				return err
			}
			current := p.evaluate()
			var projected risk.Account
			if act == model.ActionRepay {
				projected = risk.EstimateAfterRepay(current, usd)
			} else {
				projected = risk.Simulate(current, act, usd)
			}
			return writeJSON(cmd.OutOrStdout(), risk.Validate(current, projected, act))
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "supply, withdraw, borrow or repay")
	cmd.Flags().StringVar(&amount, "amount-usd", "", "action size in USD")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("amount-usd")
	return cmd
}

func parsePositive(name, s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil || !v.IsPositive() {
		return decimal.Zero, fmt.Errorf("--%s must be a positive number, got %q", name, s)
	}
	return v, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
