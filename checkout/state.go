package checkout

import "github.com/alovak/cardflow-checkout/checkout/models"

// Kind names a session state.
type Kind string

const (
	KindCardInput               Kind = "card_input"
	KindProcessing              Kind = "processing"
	KindPinRequired             Kind = "pin_required"
	KindOtpRequired             Kind = "otp_required"
	KindPaymentInstructionShown Kind = "payment_instruction_shown"
	KindSuccess                 Kind = "success"
	KindRedirect                Kind = "redirect"
)

// State is one of the session states below. The set is closed.
type State interface {
	Kind() Kind
	state()
}

// CardInput is the initial state and the place every failure lands. ChargeID
// is kept only when the backend had already returned one.
type CardInput struct {
	ChargeID string
	Errors   models.FormErrors
	Err      error
}

// Processing means exactly one RPC is outstanding.
type Processing struct {
	From     Kind
	ChargeID string
}

type PinRequired struct {
	ChargeID string
	Message  string
	Err      error
}

type OtpRequired struct {
	ChargeID string
	Message  string
	Err      error
}

// PaymentInstructionShown is soft-terminal: the user completes the payment out
// of band and comes back.
type PaymentInstructionShown struct {
	ChargeID    string
	Instruction string
}

type Success struct {
	ChargeID        string
	PaymentMethodID string
	Message         string
}

// Redirect hands control to a full navigation. Nothing local follows it.
type Redirect struct {
	ChargeID string
	URL      string
}

func (CardInput) Kind() Kind               { return KindCardInput }
func (Processing) Kind() Kind              { return KindProcessing }
func (PinRequired) Kind() Kind             { return KindPinRequired }
func (OtpRequired) Kind() Kind             { return KindOtpRequired }
func (PaymentInstructionShown) Kind() Kind { return KindPaymentInstructionShown }
func (Success) Kind() Kind                 { return KindSuccess }
func (Redirect) Kind() Kind                { return KindRedirect }

func (CardInput) state()               {}
func (Processing) state()              {}
func (PinRequired) state()             {}
func (OtpRequired) state()             {}
func (PaymentInstructionShown) state() {}
func (Success) state()                 {}
func (Redirect) state()                {}

// Terminal reports whether no further event is accepted.
func Terminal(s State) bool {
	switch s.(type) {
	case Success, Redirect:
		return true
	}
	return false
}

// ChargeID returns the charge the state belongs to, if any.
func ChargeID(s State) string {
	switch st := s.(type) {
	case CardInput:
		return st.ChargeID
	case Processing:
		return st.ChargeID
	case PinRequired:
		return st.ChargeID
	case OtpRequired:
		return st.ChargeID
	case PaymentInstructionShown:
		return st.ChargeID
	case Success:
		return st.ChargeID
	case Redirect:
		return st.ChargeID
	}
	return ""
}

// StateErr returns the error surfaced by s, if any.
func StateErr(s State) error {
	switch st := s.(type) {
	case CardInput:
		return st.Err
	case PinRequired:
		return st.Err
	case OtpRequired:
		return st.Err
	}
	return nil
}

// Event drives Transition.
type Event interface {
	event()
}

// Submitted is sent when the user submits the current form and local
// validation passed.
type Submitted struct{}

// ValidationFailed carries local validation errors; no RPC is sent.
type ValidationFailed struct {
	Errors models.FormErrors
	Err    error
}

// Replied carries the backend reply to the outstanding RPC.
type Replied struct {
	Result models.MutationResult
}

// Failed carries a local or transport failure of the current attempt.
type Failed struct {
	Err error
}

// Cancelled is the user going back.
type Cancelled struct{}

func (Submitted) event()        {}
func (ValidationFailed) event() {}
func (Replied) event()          {}
func (Failed) event()           {}
func (Cancelled) event()        {}
