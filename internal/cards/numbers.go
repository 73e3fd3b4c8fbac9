package cards

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Card numbers look like real PANs so buyer-side tooling can store them,
// but they only resolve inside this service: a "4" prefix followed by
// 15 random digits. CVVs are 3 random digits.

func generateCardNumber() (string, error) {
	digits := make([]byte, 15)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate card number: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return "4" + string(digits), nil
}

func generateCVV() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return "", fmt.Errorf("failed to generate cvv: %w", err)
	}
	return fmt.Sprintf("%03d", n.Int64()), nil
}
