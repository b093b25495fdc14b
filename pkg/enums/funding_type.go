package enums

import "fmt"

// FundingType names the record a payment pays for.
type FundingType string

const (
	FundingSubscription        FundingType = "SUBSCRIPTION"
	FundingSubscriptionRenewal FundingType = "SUBSCRIPTION_RENEWAL"
	FundingTip                 FundingType = "TIP"
	FundingContentPurchase     FundingType = "CONTENT_PURCHASE"
)

var validFundingTypes = []FundingType{
	FundingSubscription,
	FundingSubscriptionRenewal,
	FundingTip,
	FundingContentPurchase,
}

// String implements fmt.Stringer.
func (f FundingType) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FundingType.
func (f FundingType) IsValid() bool {
	for _, candidate := range validFundingTypes {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFundingType converts raw input into a FundingType.
func ParseFundingType(value string) (FundingType, error) {
	for _, candidate := range validFundingTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid funding type %q", value)
}
