package main

import (
	"context"
	"errors"
	"io"

	"github.com/alovak/cardflow-checkout/checkout"
	"github.com/alovak/cardflow-checkout/checkout/models"
)

var errAborted = errors.New("checkout aborted")

// runFlow drives s until it reaches a terminal state or the user gives up.
func runFlow(ctx context.Context, s *checkout.Session, p prompter, out io.Writer) error {
	var seen error
	for {
		switch st := s.State().(type) {
		case checkout.CardInput:
			if st.Err != nil && st.Err != seen && models.KindOf(st.Err) != models.KindValidation {
				seen = st.Err
				if !models.Retryable(st.Err) {
					return st.Err
				}
				again, err := p.Confirm("Try again?")
				if err != nil {
					return err
				}
				if !again {
					return errAborted
				}
			}
			card, err := p.Card()
			if err != nil {
				return err
			}
			next, err := s.SubmitCard(ctx, card)
			render(out, next, err)

		case checkout.PinRequired:
			pin, err := p.PIN(st.Message)
			if err != nil {
				return err
			}
			if pin == "" {
				if _, err := s.Cancel(); err != nil {
					return err
				}
				continue
			}
			next, err := s.SubmitPIN(ctx, pin)
			render(out, next, err)

		case checkout.OtpRequired:
			otp, err := p.OTP(st.Message)
			if err != nil {
				return err
			}
			if otp == "" {
				if _, err := s.Cancel(); err != nil {
					return err
				}
				continue
			}
			next, err := s.SubmitOTP(ctx, otp)
			render(out, next, err)

		case checkout.PaymentInstructionShown:
			// The payment completes out of band; the session has nothing
			// more to submit.
			if _, err := p.Confirm("Done?"); err != nil {
				return err
			}
			return nil

		case checkout.Success, checkout.Redirect:
			return nil

		default:
			return models.NewError(models.KindProtocol, "unexpected state "+string(st.Kind()), nil)
		}
	}
}
