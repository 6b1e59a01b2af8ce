package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alovak/cardflow-checkout/sandbox"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

func main() {
	cfg := sandbox.DefaultConfig()
	var flow string

	rootCmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Sandbox charge service for exercising the checkout flow",
		Long: `Sandbox implements the three charge operations without any card network.

Storage is picked from the environment: REPO_BACKEND=mem|pg with DB_DSN for
Postgres, and REDIS_ADDR to keep idempotent replies in Redis.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Flow = sandbox.Flow(flow)
			if cfg.APISecret == "" {
				cfg.APISecret = os.Getenv("SANDBOX_API_SECRET")
			}

			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			app := sandbox.NewApp(logger, cfg)
			if err := app.Start(); err != nil {
				return fmt.Errorf("starting sandbox: %w", err)
			}

			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			<-c

			app.Shutdown()
			return nil
		},
	}

	rootCmd.Flags().StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address")
	rootCmd.Flags().StringVar(&flow, "flow", string(cfg.Flow), "challenge flow: pin_otp|pin|otp|redirect|instruction|none|decline")
	rootCmd.Flags().StringVar(&cfg.OTPCode, "otp", cfg.OTPCode, "the OTP the sandbox accepts")
	rootCmd.Flags().Int64Var(&cfg.VerificationAmount, "verification-amount", cfg.VerificationAmount, "amount charged when adding a card, in minor units")
	rootCmd.Flags().StringVar(&cfg.RedirectBaseURL, "redirect-url", cfg.RedirectBaseURL, "base URL handed out by the redirect flow")
	rootCmd.Flags().StringToInt64Var(&cfg.PlanPrices, "plan", cfg.PlanPrices, "plan prices in minor units, replacing the defaults, e.g. plan_pro=2999")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
