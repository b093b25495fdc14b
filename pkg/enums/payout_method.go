package enums

import "fmt"

// PayoutMethod is where a payout is sent.
type PayoutMethod string

const (
	PayoutMethodBankAccount PayoutMethod = "BANK_ACCOUNT"
	PayoutMethodPayPal      PayoutMethod = "PAYPAL"
	PayoutMethodCrypto      PayoutMethod = "CRYPTO"
)

var validPayoutMethods = []PayoutMethod{
	PayoutMethodBankAccount,
	PayoutMethodPayPal,
	PayoutMethodCrypto,
}

// String implements fmt.Stringer.
func (p PayoutMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PayoutMethod.
func (p PayoutMethod) IsValid() bool {
	for _, candidate := range validPayoutMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePayoutMethod converts raw input into a PayoutMethod.
func ParsePayoutMethod(value string) (PayoutMethod, error) {
	for _, candidate := range validPayoutMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout method %q", value)
}
