package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type BillingConfig struct {
	TaxRate        decimal.Decimal // fraction, e.g. 0.12 for 12% VAT
	UsdRate        decimal.Decimal // fixed PHP per USD conversion rate
	Currency       string
	InvoicePrefix  string
	PayBaseURL     string // public base URL embedded in payment-link QR codes
	ReceiptQueue   string
	PayPalClientID string
	PayPalSecret   string
	PayPalBaseURL  string
	GatewayTimeout time.Duration
	MaxPageSize    int
}

func LoadBillingConfig() *BillingConfig {
	return &BillingConfig{
		TaxRate:        getEnvAsDecimal("BILLING_TAX_RATE", "0.12"),
		UsdRate:        getEnvAsDecimal("BILLING_USD_RATE", "58"),
		Currency:       getEnv("BILLING_CURRENCY", "PHP"),
		InvoicePrefix:  getEnv("BILLING_INVOICE_PREFIX", "INV"),
		PayBaseURL:     getEnv("APP_BASE_URL", "http://localhost:8080"),
		ReceiptQueue:   getEnv("BILLING_RECEIPT_QUEUE", "receipt_queue"),
		PayPalClientID: getEnv("PAYPAL_CLIENT_ID", ""),
		PayPalSecret:   getEnv("PAYPAL_SECRET", ""),
		PayPalBaseURL:  getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
		GatewayTimeout: getEnvAsDuration("PAYPAL_TIMEOUT", 15*time.Second),
		MaxPageSize:    getEnvAsInt("BILLING_MAX_PAGE_SIZE", 100),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDecimal(key, defaultVal string) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(defaultVal)
	return d
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
