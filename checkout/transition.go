package checkout

import (
	"errors"
	"fmt"

	"github.com/alovak/cardflow-checkout/checkout/models"
)

var (
	// ErrSubmissionInFlight is returned for a submission while an RPC is
	// outstanding.
	ErrSubmissionInFlight = errors.New("submission already in flight")
	// ErrInvalidTransition is returned for an event the current state does
	// not accept.
	ErrInvalidTransition = errors.New("invalid transition")
)

// Transition is the pure session state function. On error the returned state
// is s unchanged.
func Transition(s State, ev Event) (State, error) {
	if Terminal(s) {
		return s, fmt.Errorf("%s after %s: %w", eventName(ev), s.Kind(), ErrInvalidTransition)
	}

	switch ev := ev.(type) {
	case Cancelled:
		// full reset: charge, challenge and instruction are dropped
		return CardInput{}, nil

	case Submitted:
		switch st := s.(type) {
		case CardInput:
			// a card submission always opens a new round
			return Processing{From: KindCardInput}, nil
		case PinRequired:
			return Processing{From: KindPinRequired, ChargeID: st.ChargeID}, nil
		case OtpRequired:
			return Processing{From: KindOtpRequired, ChargeID: st.ChargeID}, nil
		case Processing:
			return s, ErrSubmissionInFlight
		}

	case ValidationFailed:
		switch st := s.(type) {
		case CardInput:
			return CardInput{ChargeID: st.ChargeID, Errors: ev.Errors, Err: ev.Err}, nil
		case PinRequired:
			st.Err = ev.Err
			return st, nil
		case OtpRequired:
			st.Err = ev.Err
			return st, nil
		}

	case Failed:
		if _, ok := s.(PaymentInstructionShown); ok {
			break
		}
		return CardInput{ChargeID: ChargeID(s), Err: ev.Err}, nil

	case Replied:
		if st, ok := s.(Processing); ok {
			return reply(st, ev.Result)
		}
	}

	return s, fmt.Errorf("%s in %s: %w", eventName(ev), s.Kind(), ErrInvalidTransition)
}

// reply interprets the backend discriminator for the outstanding RPC.
func reply(s Processing, res models.MutationResult) (State, error) {
	chargeID := s.ChargeID
	if res.ChargeID != "" {
		if chargeID != "" && res.ChargeID != chargeID {
			return s, models.NewError(models.KindProtocol, "charge id changed mid-round",
				fmt.Errorf("have %q, got %q", chargeID, res.ChargeID))
		}
		chargeID = res.ChargeID
	}

	switch res.NextActionType {
	case models.NextActionRedirectURL:
		if res.RedirectURL == "" {
			return s, models.NewError(models.KindProtocol, "redirect without url", nil)
		}
		return Redirect{ChargeID: chargeID, URL: res.RedirectURL}, nil

	case models.NextActionRequiresPIN:
		if chargeID == "" {
			return s, models.NewError(models.KindProtocol, "pin challenge without charge id", nil)
		}
		return PinRequired{ChargeID: chargeID, Message: res.Message}, nil

	case models.NextActionRequiresOTP:
		if chargeID == "" {
			return s, models.NewError(models.KindProtocol, "otp challenge without charge id", nil)
		}
		return OtpRequired{ChargeID: chargeID, Message: res.Message}, nil

	case models.NextActionPaymentInstruction:
		text := res.PaymentInstruction
		if text == "" {
			text = res.Message
		}
		return PaymentInstructionShown{ChargeID: chargeID, Instruction: text}, nil

	case models.NextActionNone:
		// a payment method id confirms an approval but never overrides success=false
		if res.Success {
			return Success{ChargeID: chargeID, PaymentMethodID: res.PaymentMethodID, Message: res.Message}, nil
		}
		return CardInput{ChargeID: chargeID, Err: models.DeclinedError(res)}, nil
	}

	return s, &models.Error{
		Kind:    models.KindUnrecognizedNextAction,
		Message: fmt.Sprintf("unrecognized next action %q", res.NextActionType),
	}
}

func eventName(ev Event) string {
	switch ev.(type) {
	case Submitted:
		return "submit"
	case ValidationFailed:
		return "validation failure"
	case Replied:
		return "reply"
	case Failed:
		return "failure"
	case Cancelled:
		return "cancel"
	}
	return fmt.Sprintf("%T", ev)
}
