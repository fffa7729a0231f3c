package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/flagx"
	"github.com/dmitrijs2005/gophauth/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept both
// "30m" strings and integer nanoseconds. Absent fields keep their previous
// value.
type JsonConfig struct {
	EndpointAddrGRPC *string `json:"endpoint_addr_grpc"`
	DatabaseDSN      *string `json:"database_dsn"`
	MetricsAddr      *string `json:"metrics_addr"`
	LogLevel         *string `json:"log_level"`

	SecretKey *string `json:"secret_key"`
	Issuer    *string `json:"issuer"`

	AccessTokenValidityDuration        *timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration       *timex.Duration `json:"refresh_token_validity_duration"`
	ResetPasswordTokenValidityDuration *timex.Duration `json:"reset_password_token_validity_duration"`
	VerifyEmailTokenValidityDuration   *timex.Duration `json:"verify_email_token_validity_duration"`

	TwilioAccountSID *string `json:"twilio_account_sid"`
	TwilioAuthToken  *string `json:"twilio_auth_token"`
	TwilioServiceSID *string `json:"twilio_service_sid"`
	TwilioBaseURL    *string `json:"twilio_base_url"`

	VerificationTimeout *timex.Duration `json:"verification_timeout"`
	VerificationRate    *float64        `json:"verification_rate"`
	VerificationBurst   *int            `json:"verification_burst"`

	JanitorInterval *timex.Duration `json:"janitor_interval"`
}

// parseJSON overlays the file named by -c / -config, if any.
func parseJSON(config *Config, args []string) error {
	path := flagx.JSONConfigPath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	c.apply(config)
	return nil
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.Issuer, c.Issuer)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setDuration(&config.ResetPasswordTokenValidityDuration, c.ResetPasswordTokenValidityDuration)
	setDuration(&config.VerifyEmailTokenValidityDuration, c.VerifyEmailTokenValidityDuration)
	setString(&config.TwilioAccountSID, c.TwilioAccountSID)
	setString(&config.TwilioAuthToken, c.TwilioAuthToken)
	setString(&config.TwilioServiceSID, c.TwilioServiceSID)
	setString(&config.TwilioBaseURL, c.TwilioBaseURL)
	setDuration(&config.VerificationTimeout, c.VerificationTimeout)
	if c.VerificationRate != nil {
		config.VerificationRate = *c.VerificationRate
	}
	if c.VerificationBurst != nil {
		config.VerificationBurst = *c.VerificationBurst
	}
	setDuration(&config.JanitorInterval, c.JanitorInterval)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}
