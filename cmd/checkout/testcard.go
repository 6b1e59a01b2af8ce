package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alovak/cardflow-checkout/internal/cardcheck"
	"github.com/alovak/cardflow-checkout/internal/cardgen"
	"github.com/spf13/cobra"
)

type testCardProfile struct {
	prefix string
	length int
}

var testCardProfiles = map[string]testCardProfile{
	"visa":       {"4242", 16},
	"mastercard": {"5555", 16},
	"amex":       {"3782", 15},
	"discover":   {"6011", 16},
	"jcb":        {"3530", 16},
}

func newTestCardCmd() *cobra.Command {
	var (
		brand string
		bin   string
		count int
	)
	cmd := &cobra.Command{
		Use:   "testcard",
		Short: "Print Luhn-valid test card numbers",
		// No backend needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTestCards(cmd.OutOrStdout(), brand, bin, count, time.Now())
		},
	}
	cmd.Flags().StringVar(&brand, "brand", "visa", "visa|mastercard|amex|discover|jcb")
	cmd.Flags().StringVar(&bin, "bin", "", "number prefix, overrides the brand prefix")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "how many numbers to print")
	return cmd
}

func printTestCards(out io.Writer, brand, bin string, count int, now time.Time) error {
	profile, ok := testCardProfiles[strings.ToLower(brand)]
	if !ok {
		return fmt.Errorf("unknown brand %q", brand)
	}
	if bin != "" {
		profile.prefix = bin
	}
	if count < 1 {
		return fmt.Errorf("count must be positive")
	}

	exp := now.AddDate(3, 0, 0)
	for i := 0; i < count; i++ {
		pan, err := cardgen.GeneratePANWithLength(profile.prefix, profile.length)
		if err != nil {
			return fmt.Errorf("generating card: %w", err)
		}
		fmt.Fprintf(out, "%s  %-10s  exp %02d/%02d\n", pan, cardcheck.DetectBrand(pan), int(exp.Month()), exp.Year()%100)
	}
	return nil
}
