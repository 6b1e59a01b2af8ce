package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/alovak/cardflow-checkout/checkout"
	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen, color.Bold).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

func info(msg string) {
	fmt.Fprintln(os.Stderr, cyan(msg))
}

// render prints what the user needs to see for st. err is the error that
// came back with st, if any.
func render(out io.Writer, st checkout.State, err error) {
	switch st := st.(type) {
	case checkout.CardInput:
		if len(st.Errors.Fields) > 0 {
			keys := make([]string, 0, len(st.Errors.Fields))
			for k := range st.Errors.Fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "%s %s\n", red(k+":"), st.Errors.Fields[k])
			}
		}
		if st.Errors.Submit != "" {
			fmt.Fprintln(out, red(st.Errors.Submit))
		} else if err != nil && len(st.Errors.Fields) == 0 {
			fmt.Fprintln(out, red(models.UserMessage(err)))
		}
	case checkout.PinRequired:
		if err != nil {
			fmt.Fprintln(out, red(models.UserMessage(err)))
		}
		fmt.Fprintln(out, cyan(orDefault(st.Message, "Your bank asks for the card PIN.")))
	case checkout.OtpRequired:
		if err != nil {
			fmt.Fprintln(out, red(models.UserMessage(err)))
		}
		fmt.Fprintln(out, cyan(orDefault(st.Message, "Enter the code your bank sent you.")))
	case checkout.PaymentInstructionShown:
		fmt.Fprintln(out, yellow(st.Instruction))
	case checkout.Success:
		msg := orDefault(st.Message, "Done.")
		if st.PaymentMethodID != "" {
			msg = fmt.Sprintf("%s (payment method %s)", msg, st.PaymentMethodID)
		}
		fmt.Fprintln(out, green("✔ "+msg))
	case checkout.Redirect:
		fmt.Fprintf(out, "%s %s\n", yellow("Continue the payment at:"), st.URL)
	}
}
