package app

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tenure/payout-service/internal/domain"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const bankDetailsKeyInfo = "payout-service/bank-details/v1"

var ErrMalformedBankDetails = errors.New("malformed encrypted bank details")

// BankDetailsCipher seals member bank details with XChaCha20-Poly1305.
// Ciphertext is base64(nonce || sealed), bound to the member id as associated data.
type BankDetailsCipher struct {
	key []byte
}

// NewBankDetailsCipher derives a 256-bit key from secret with HKDF-SHA256.
func NewBankDetailsCipher(secret string) (*BankDetailsCipher, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("bank details encryption secret is required")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(bankDetailsKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive bank details key: %w", err)
	}
	return &BankDetailsCipher{key: key}, nil
}

// Encrypt seals details for memberID.
func (c *BankDetailsCipher) Encrypt(memberID string, details domain.BankDetails) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	plaintext, err := json.Marshal(details)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plaintext, []byte(memberID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens ciphertext sealed for memberID.
func (c *BankDetailsCipher) Decrypt(memberID, ciphertext string) (*domain.BankDetails, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBankDetails, err)
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrMalformedBankDetails
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, []byte(memberID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBankDetails, err)
	}
	var details domain.BankDetails
	if err := json.Unmarshal(plaintext, &details); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBankDetails, err)
	}
	return &details, nil
}

// maskAccount keeps the last four digits.
func maskAccount(number string) string {
	if len(number) <= 4 {
		return strings.Repeat("*", len(number))
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
