package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides applies PAYPROC_* environment variable overrides.
// Environment variables take precedence over YAML configuration, matching
// the teacher's CEDROS_* override convention.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Socket.LivePath, "PAYPROC_SOCKET_LIVE_PATH")
	setIfEnv(&c.Socket.TestPath, "PAYPROC_SOCKET_TEST_PATH")
	setBoolIfEnv(&c.Socket.Live, "PAYPROC_LIVE")
	setUIDListIfEnv(&c.Socket.AllowUID, "PAYPROC_ALLOW_UID")
	setUIDListIfEnv(&c.Socket.AdminUID, "PAYPROC_ADMIN_UID")

	setIfEnv(&c.Logging.Level, "PAYPROC_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "PAYPROC_LOG_FORMAT")
	setBoolIfEnv(&c.Logging.Debug, "PAYPROC_LOG_DEBUG_PROTOCOL")

	setBoolIfEnv(&c.Metrics.Enabled, "PAYPROC_METRICS_ENABLED")
	setIfEnv(&c.Metrics.Address, "PAYPROC_METRICS_ADDRESS")

	setIfEnv(&c.Journal.BaseName, "PAYPROC_JOURNAL_BASENAME")
	setIfEnv(&c.Preorder.DSN, "PAYPROC_PREORDER_DSN")
	setIfEnv(&c.Account.DSN, "PAYPROC_ACCOUNT_DSN")
	setIfEnv(&c.Account.DBKeyFPR, "PAYPROC_ACCOUNT_DB_KEY_FPR")
	setIfEnv(&c.Account.BackofficeKeyFPR, "PAYPROC_ACCOUNT_BACKOFFICE_KEY_FPR")

	setIfEnv(&c.Stripe.SecretKey, "PAYPROC_STRIPE_SECRET_KEY")
	setIfEnv(&c.Stripe.StatementDescriptor, "PAYPROC_STRIPE_STATEMENT_DESCRIPTOR")

	setIfEnv(&c.PayPal.ClientID, "PAYPROC_PAYPAL_CLIENT_ID")
	setIfEnv(&c.PayPal.ClientSecret, "PAYPROC_PAYPAL_CLIENT_SECRET")
	setBoolIfEnv(&c.PayPal.Sandbox, "PAYPROC_PAYPAL_SANDBOX")
	setIfEnv(&c.PayPal.ReceiverEmail, "PAYPROC_PAYPAL_RECEIVER_EMAIL")

	setIfEnv(&c.CurrencyFile, "PAYPROC_CURRENCY_RATE_FILE")
}

func setIfEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

func setUIDListIfEnv(target *[]int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var ids []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		ids = append(ids, n)
	}
	*target = ids
}
