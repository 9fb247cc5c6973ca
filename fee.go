package pay

import (
	"math/big"
)

// FeeSplit is the result of dividing a gross payment between the platform
// and the merchant. Amounts are atomic-unit integers as decimal strings.
type FeeSplit struct {
	FeeAmount      string `json:"feeAmount"`
	MerchantAmount string `json:"merchantAmount"`
}

var oneHundred = big.NewInt(100)

// SplitFee computes the platform fee from a gross atomic amount and an
// integer percentage in [0, 100].
//
//	feeAmount      = floor(gross * pct / 100)
//	merchantAmount = gross - feeAmount
//
// All arithmetic is arbitrary-precision; atomic USDC amounts routinely
// exceed the float64 safe-integer range. The two parts always sum back to
// the gross amount exactly.
func SplitFee(grossAtomic string, feePercentage int) (FeeSplit, error) {
	if feePercentage < 0 || feePercentage > 100 {
		return FeeSplit{}, Errorf(ErrCodeValidation, "fee percentage %d outside [0, 100]", feePercentage)
	}

	gross, ok := new(big.Int).SetString(grossAtomic, 10)
	if !ok {
		return FeeSplit{}, Errorf(ErrCodeValidation, "amount %q is not a decimal integer", grossAtomic)
	}
	if gross.Sign() < 0 {
		return FeeSplit{}, Errorf(ErrCodeValidation, "amount %q is negative", grossAtomic)
	}

	fee := new(big.Int).Mul(gross, big.NewInt(int64(feePercentage)))
	fee.Quo(fee, oneHundred)
	merchant := new(big.Int).Sub(gross, fee)

	return FeeSplit{
		FeeAmount:      fee.String(),
		MerchantAmount: merchant.String(),
	}, nil
}
