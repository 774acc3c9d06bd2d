// Package config loads the MFA service configuration from the environment
// with cleanenv. Durations accept both ISO8601 ("PT15M") and Go ("15m")
// notation through ParseDuration.
//
//	config.LoadEnvFile(".env")
//	cfg, err := config.Load()
//	ttl, err := config.ParseDuration(cfg.Mfa.ChallengeTTL)
package config
