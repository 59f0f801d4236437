package config

import (
	"flag"
	"os"
	"strings"

	"github.com/avdeyev/authcore/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-b string   base URL for emailed links
//	-o string   comma-separated allowed CORS origins
//	-n string   session cookie name
//	-i string   TOTP issuer label
//	-m string   outbound mail sender address
//	-l float    rate limit, requests per second
//	-r int      rate limit burst
//
// The args are first filtered to the flags handled here with
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-b", "-o", "-n", "-i", "-m", "-l", "-r"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.BaseURL, "b", config.BaseURL, "base URL used in emailed links")
	fs.StringVar(&config.SessionCookieName, "n", config.SessionCookieName, "session cookie name")
	fs.StringVar(&config.TOTPIssuer, "i", config.TOTPIssuer, "TOTP issuer label")
	fs.StringVar(&config.MailFrom, "m", config.MailFrom, "outbound mail sender address")

	origins := fs.String("o", strings.Join(config.AllowedOrigins, ","), "comma-separated allowed CORS origins")
	fs.Float64Var(&config.RateLimitRPS, "l", config.RateLimitRPS, "rate limit (requests per second)")
	fs.IntVar(&config.RateLimitBurst, "r", config.RateLimitBurst, "rate limit burst")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	if *origins != "" {
		config.AllowedOrigins = strings.Split(*origins, ",")
	}
}
