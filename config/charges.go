package config

import (
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// ChargeConfig is the percentage rates applied at order creation.
// Rates are snapshotted onto each order so historical orders stay
// computable after the configuration changes.
type ChargeConfig struct {
	TaxRate           decimal.Decimal
	ServiceChargeRate decimal.Decimal
}

// GetChargeConfig reads the current rates from env.
// Env:
// - TAX_RATE_PERCENT (default 5)
// - SERVICE_CHARGE_PERCENT (default 0)
func GetChargeConfig() ChargeConfig {
	return ChargeConfig{
		TaxRate:           decimalFromEnv("TAX_RATE_PERCENT", decimal.NewFromInt(5)),
		ServiceChargeRate: decimalFromEnv("SERVICE_CHARGE_PERCENT", decimal.Zero),
	}
}

func decimalFromEnv(key string, def decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return def
	}
	return d
}
