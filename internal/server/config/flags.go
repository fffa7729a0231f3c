package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/gophauth/internal/flagx"
)

// serverFlags are the flags handled by parseFlags.
//
//	-a string     gRPC listen address (e.g. ":50051")
//	-m string     metrics listen address (e.g. ":9090")
//	-d string     PostgreSQL DSN
//	-s string     token signing secret
//	-l string     log level (debug, info, warn, error)
//	-t duration   access token validity (e.g. "30m")
//	-r duration   refresh token validity (e.g. "720h")
var serverFlags = []string{"-a", "-m", "-d", "-s", "-l", "-t", "-r"}

// parseFlags overlays the flags it recognises in args. Other arguments,
// such as authctl subcommands, are ignored.
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("gophauth", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run gRPC server")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics listen address")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "token signing secret")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.DurationVar(&config.AccessTokenValidityDuration, "t", config.AccessTokenValidityDuration, "access token validity")
	fs.DurationVar(&config.RefreshTokenValidityDuration, "r", config.RefreshTokenValidityDuration, "refresh token validity")

	return fs.Parse(flagx.FilterArgs(args, serverFlags))
}
