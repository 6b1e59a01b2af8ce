package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alovak/cardflow-checkout/checkout"
	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/security"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var (
		configPath string
		cfg        *Config
	)

	rootCmd := &cobra.Command{
		Use:   "checkout",
		Short: "Terminal checkout against a charge backend",
		Long: `checkout walks through adding a card or paying for a subscription,
answering PIN and OTP challenges as the backend asks for them.

Card fields are encrypted with the key in ` + security.KeyEnv + ` before they
leave the process.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig(configPath, cmd.Flags())
			return err
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().String("backend", "", "charge backend base URL")
	rootCmd.PersistentFlags().String("business", "", "business id sent with every call")
	rootCmd.PersistentFlags().String("api-secret", "", "HS256 secret used to sign bearer tokens")
	rootCmd.PersistentFlags().Duration("timeout", 0, "per-request timeout")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log session events to stderr")
	rootCmd.PersistentFlags().String("expiry-location", "", "time zone used to decide whether a card has expired")

	rootCmd.AddCommand(
		newAddCardCmd(func() *Config { return cfg }),
		newSubscribeCmd(func() *Config { return cfg }),
		newTestCardCmd(),
	)
	return rootCmd
}

func newAddCardCmd(config func() *Config) *cobra.Command {
	var isDefault bool
	cmd := &cobra.Command{
		Use:   "add-card",
		Short: "Add a card as a payment method",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkoutWith(cmd.Context(), config(), checkout.Options{IsDefault: isDefault})
		},
	}
	cmd.Flags().BoolVar(&isDefault, "default", false, "make the card the default payment method")
	return cmd
}

func newSubscribeCmd(config func() *Config) *cobra.Command {
	var plan models.PlanContext
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Pay for a subscription plan with a new card",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkoutWith(cmd.Context(), config(), checkout.Options{Plan: &plan})
		},
	}
	cmd.Flags().StringVar(&plan.PlanID, "plan", "", "plan id")
	cmd.Flags().StringVar(&plan.SubscriptionID, "subscription", "", "subscription id")
	cmd.Flags().BoolVar(&plan.IsRenewal, "renewal", false, "renew an existing subscription")
	_ = cmd.MarkFlagRequired("plan")
	_ = cmd.MarkFlagRequired("subscription")
	return cmd
}

func checkoutWith(ctx context.Context, cfg *Config, opts checkout.Options) error {
	enc := security.NewEncryptor(security.EnvKey(security.KeyEnv))
	s := checkout.NewSession(cfg.logger(), cfg.client(), enc, opts)

	if opts.Plan != nil {
		info(fmt.Sprintf("Subscribing to %s", opts.Plan.PlanID))
	}
	return runFlow(ctx, s, surveyPrompter{}, os.Stdout)
}
