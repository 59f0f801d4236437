package config

import (
	"encoding/json"
	"os"

	"github.com/avdeyev/authcore/internal/flagx"
)

// JsonConfig mirrors Config for JSON unmarshalling. Only fields present in
// the file override the running config.
type JsonConfig struct {
	EndpointAddrHTTP  *string  `json:"endpoint_addr_http"`
	DatabaseDSN       *string  `json:"database_dsn"`
	BaseURL           *string  `json:"base_url"`
	AllowedOrigins    []string `json:"allowed_origins"`
	SessionCookieName *string  `json:"session_cookie_name"`
	TOTPIssuer        *string  `json:"totp_issuer"`
	MailFrom          *string  `json:"mail_from"`
	RateLimitRPS      *float64 `json:"rate_limit_rps"`
	RateLimitBurst    *int     `json:"rate_limit_burst"`
}

// parseJson overlays values from the JSON file named by -c/-config, if any.
// A missing or malformed file panics: starting with half-applied settings is
// worse than not starting.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddrHTTP != nil {
		config.EndpointAddrHTTP = *c.EndpointAddrHTTP
	}
	if c.DatabaseDSN != nil {
		config.DatabaseDSN = *c.DatabaseDSN
	}
	if c.BaseURL != nil {
		config.BaseURL = *c.BaseURL
	}
	if c.AllowedOrigins != nil {
		config.AllowedOrigins = c.AllowedOrigins
	}
	if c.SessionCookieName != nil {
		config.SessionCookieName = *c.SessionCookieName
	}
	if c.TOTPIssuer != nil {
		config.TOTPIssuer = *c.TOTPIssuer
	}
	if c.MailFrom != nil {
		config.MailFrom = *c.MailFrom
	}
	if c.RateLimitRPS != nil {
		config.RateLimitRPS = *c.RateLimitRPS
	}
	if c.RateLimitBurst != nil {
		config.RateLimitBurst = *c.RateLimitBurst
	}
}
