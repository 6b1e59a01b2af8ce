package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIs(t *testing.T) {
	require.ErrorIs(t, ErrExpiredCard, ErrValidation)
	require.NotErrorIs(t, ErrValidation, ErrExpiredCard)
	require.NotErrorIs(t, ErrExpiredCard, ErrInvalidExpiry)

	wrapped := fmt.Errorf("submit: %w", NewError(KindNetwork, "timeout", errors.New("dial tcp")))
	require.ErrorIs(t, wrapped, ErrNetwork)
	require.NotErrorIs(t, wrapped, ErrDeclined)
	require.Equal(t, KindNetwork, KindOf(wrapped))
	require.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

func TestErrorString(t *testing.T) {
	require.Equal(t, "network", (&Error{Kind: KindNetwork}).Error())
	require.Equal(t, "timeout: dial tcp", NewError(KindNetwork, "timeout", errors.New("dial tcp")).Error())

	cause := errors.New("cause")
	require.ErrorIs(t, NewError(KindEncryption, "", cause), cause)
}

func TestRetryable(t *testing.T) {
	require.False(t, Retryable(ErrConfiguration))
	require.False(t, Retryable(errors.New("plain")))
	for _, err := range []error{ErrValidation, ErrEncryption, ErrNetwork, ErrDeclined, ErrUnrecognizedNextAction, ErrProtocol} {
		require.True(t, Retryable(err), "%v", err)
	}
}

func TestUserMessage(t *testing.T) {
	require.Empty(t, UserMessage(nil))
	require.Equal(t, "card has expired", UserMessage(ErrExpiredCard))
	require.Equal(t, "Please check your card details.", UserMessage(ErrValidation))
	require.Equal(t, "Card payments are unavailable right now.",
		UserMessage(NewError(KindConfiguration, "card encryption key is not valid base64", errors.New("illegal base64"))))
	require.Equal(t, "Something went wrong. Please try again.", UserMessage(errors.New("socket: secret detail")))
	require.Equal(t, "The payment could not be completed. Please try again.", UserMessage(ErrProtocol))
	require.NotContains(t, UserMessage(NewError(KindNetwork, "", errors.New("10.0.0.7:443"))), "10.0.0.7")

	rejected := &Error{Kind: KindProtocol, Code: ErrRequestRejected.Code, Message: "Plan is not available", Err: errors.New("status=400")}
	require.ErrorIs(t, rejected, ErrProtocol)
	require.Equal(t, "Plan is not available", UserMessage(rejected))
	require.Equal(t, "The payment could not be completed. Please try again.", UserMessage(NewError(KindProtocol, "charge id changed mid-round", nil)))
}

func TestDeclinedError(t *testing.T) {
	err := DeclinedError(MutationResult{Message: "  Insufficient funds. "})
	require.ErrorIs(t, err, ErrDeclined)
	require.Equal(t, "Insufficient funds.", UserMessage(err))

	err = DeclinedError(MutationResult{Errors: []string{"do not honor", "risk"}})
	require.Equal(t, "do not honor; risk", err.Message)

	require.Equal(t, "Your card was declined. Please try again.", UserMessage(DeclinedError(MutationResult{})))
}
