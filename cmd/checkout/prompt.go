package main

import (
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/cardcheck"
	"github.com/alovak/cardflow-checkout/internal/expiry"
)

const maxCardNameLen = 26

// prompter collects user input for the flow. An empty PIN or OTP means the
// user wants to go back to the card form.
type prompter interface {
	Card() (models.CardInput, error)
	PIN(message string) (string, error)
	OTP(message string) (string, error)
	Confirm(message string) (bool, error)
}

type surveyPrompter struct{}

func (surveyPrompter) Card() (models.CardInput, error) {
	answers := struct {
		Number string
		Expiry string
		CVV    string
		Name   string
	}{}

	questions := []*survey.Question{
		{
			Name:   "number",
			Prompt: &survey.Input{Message: "Card number:"},
		},
		{
			Name:   "expiry",
			Prompt: &survey.Input{Message: "Expiry (MM/YY):"},
		},
		{
			Name:   "cvv",
			Prompt: &survey.Password{Message: "CVV:"},
		},
		{
			Name:   "name",
			Prompt: &survey.Input{Message: "Name on card:"},
		},
	}
	if err := survey.Ask(questions, &answers); err != nil {
		return models.CardInput{}, err
	}

	card := cardFromAnswers(answers.Number, answers.Expiry, answers.CVV, answers.Name)
	if brand := cardcheck.DetectBrand(card.CardNumber); brand != cardcheck.BrandUnknown {
		info(string(brand))
	}
	return card, nil
}

func (surveyPrompter) PIN(message string) (string, error) {
	var pin string
	err := survey.AskOne(&survey.Password{
		Message: orDefault(message, "Card PIN:"),
		Help:    "Leave empty to go back to the card form",
	}, &pin)
	return strings.TrimSpace(pin), err
}

func (surveyPrompter) OTP(message string) (string, error) {
	var otp string
	err := survey.AskOne(&survey.Input{
		Message: orDefault(message, "One-time code:"),
		Help:    "Leave empty to go back to the card form",
	}, &otp)
	return strings.TrimSpace(otp), err
}

func (surveyPrompter) Confirm(message string) (bool, error) {
	ok := false
	err := survey.AskOne(&survey.Confirm{Message: message, Default: true}, &ok)
	return ok, err
}

// cardFromAnswers maps raw form answers onto CardInput. An expiry that does
// not parse is passed on as the month so the form reports it.
func cardFromAnswers(number, exp, cvv, name string) models.CardInput {
	card := models.CardInput{
		CardNumber:     strings.TrimSpace(number),
		CVV:            strings.TrimSpace(cvv),
		CardholderName: normalizeCardName(name),
	}
	yymm, err := expiry.ParseCardFace(exp)
	if err == nil {
		var month, year int
		if month, year, err = expiry.SplitYYMM(yymm); err == nil {
			card.ExpiryMonth = fmt.Sprintf("%02d", month)
			card.ExpiryYear = fmt.Sprintf("%02d", year)
			return card
		}
	}
	card.ExpiryMonth = strings.TrimSpace(exp)
	return card
}

// normalizeCardName upper-cases, collapses whitespace and cuts the name to
// what fits on a card face.
func normalizeCardName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	s = strings.ToUpper(s)
	if len(s) > maxCardNameLen {
		s = s[:maxCardNameLen]
	}
	return s
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
