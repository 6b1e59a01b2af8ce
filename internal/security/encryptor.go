package security

import (
	"strings"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/cardgen"
	"golang.org/x/sync/errgroup"
)

// Encryptor is the only code path allowed to touch raw card data. Its output
// is the only form of card data allowed to leave the process.
type Encryptor struct {
	keys     KeySource
	newNonce func() (string, error)
}

func NewEncryptor(keys KeySource) *Encryptor {
	return &Encryptor{
		keys:     keys,
		newNonce: GenerateNonce,
	}
}

// EncryptCardData sanitizes the card fields, draws one nonce for this attempt
// and encrypts number, month, year and CVV concurrently under it. The
// cardholder name is passed through in clear.
func (e *Encryptor) EncryptCardData(card models.CardInput) (models.EncryptedCardPayload, error) {
	key, err := loadKey(e.keys)
	if err != nil {
		return models.EncryptedCardPayload{}, err
	}
	defer Wipe(key)

	nonce, err := e.newNonce()
	if err != nil {
		return models.EncryptedCardPayload{}, models.NewError(models.KindEncryption, "generate nonce", err)
	}

	plain := [4]string{
		cardgen.NormalizePAN(card.CardNumber),
		padMonth(card.ExpiryMonth),
		lastTwo(card.ExpiryYear),
		strings.TrimSpace(card.CVV),
	}
	var sealed [4]string

	var g errgroup.Group
	for i := range plain {
		i := i
		g.Go(func() error {
			out, err := EncryptField(plain[i], key, nonce)
			if err != nil {
				return err
			}
			sealed[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.EncryptedCardPayload{}, models.NewError(models.KindEncryption, "encrypt card data", err)
	}

	return models.EncryptedCardPayload{
		Nonce:          nonce,
		CardNumber:     sealed[0],
		ExpiryMonth:    sealed[1],
		ExpiryYear:     sealed[2],
		CVV:            sealed[3],
		CardHolderName: strings.TrimSpace(card.CardholderName),
	}, nil
}

// EncryptPIN encrypts a card PIN under its own fresh nonce, independent of any
// card nonce.
func (e *Encryptor) EncryptPIN(pin string) (nonce, ciphertext string, err error) {
	key, err := loadKey(e.keys)
	if err != nil {
		return "", "", err
	}
	defer Wipe(key)

	nonce, err = e.newNonce()
	if err != nil {
		return "", "", models.NewError(models.KindEncryption, "generate nonce", err)
	}
	ciphertext, err = EncryptField(pin, key, nonce)
	if err != nil {
		return "", "", models.NewError(models.KindEncryption, "encrypt pin", err)
	}
	return nonce, ciphertext, nil
}

func padMonth(m string) string {
	m = strings.TrimSpace(m)
	if len(m) == 1 {
		return "0" + m
	}
	return m
}

func lastTwo(y string) string {
	return cardgen.LastN(strings.TrimSpace(y), 2)
}
