// Package idgen generates identifiers for escrows, disputes and payments.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	nanoid "github.com/jaevor/go-nanoid"
	"github.com/google/uuid"
)

const paymentAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// PaymentIDPrefix is prepended to every payment reference.
const PaymentIDPrefix = "PAY-"

var paymentSuffix func() string

func init() {
	gen, err := nanoid.CustomASCII(paymentAlphabet, 8)
	if err != nil {
		panic("idgen: nanoid generator: " + err.Error())
	}
	paymentSuffix = gen
}

// New returns a random UUID string.
func New() string {
	return uuid.New().String()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// PaymentID returns a gateway reference like PAY-7K2Q9XZA.
func PaymentID() string {
	return PaymentIDPrefix + paymentSuffix()
}

// IsPaymentID reports whether s looks like a value from PaymentID.
func IsPaymentID(s string) bool {
	rest, ok := strings.CutPrefix(s, PaymentIDPrefix)
	if !ok || len(rest) != 8 {
		return false
	}
	for _, c := range rest {
		if !strings.ContainsRune(paymentAlphabet, c) {
			return false
		}
	}
	return true
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
