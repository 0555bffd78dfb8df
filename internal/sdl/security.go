package sdl

import (
	"context"
	"log/slog"
	"strings"
)

// LevelCritical ranks above slog.LevelError. TLS bypass events log at
// this level so they stand out in aggregated output.
const LevelCritical slog.Level = slog.LevelError + 4

var (
	productionEnvironments = map[string]bool{
		"production": true,
		"prod":       true,
	}
	developmentEnvironments = map[string]bool{
		"development": true,
		"dev":         true,
		"test":        true,
		"testing":     true,
	}
)

// IsProductionEnvironment reports whether the environment name denotes a
// production deployment. Matching is case-insensitive.
func IsProductionEnvironment(environment string) bool {
	return productionEnvironments[strings.ToLower(strings.TrimSpace(environment))]
}

// IsDevelopmentEnvironment reports whether the environment name denotes a
// development or test deployment.
func IsDevelopmentEnvironment(environment string) bool {
	return developmentEnvironments[strings.ToLower(strings.TrimSpace(environment))]
}

// ValidateTLSBypassConfig rejects disabling TLS certificate verification
// in production environments. A permitted bypass is logged at warning and
// critical level so it cannot slip through a deploy unnoticed.
func ValidateTLSBypassConfig(skipTLSVerify bool, environment string, logger *slog.Logger) error {
	if !skipTLSVerify {
		return nil
	}
	if IsProductionEnvironment(environment) {
		return ErrSecurityConfig(
			"TLS certificate verification cannot be disabled in environment %q", environment)
	}
	if logger != nil {
		logger.Warn("TLS certificate verification is disabled",
			"environment", environment)
		logger.Log(context.Background(), LevelCritical,
			"SECURITY: TLS certificate verification bypass is active",
			"environment", environment)
	}
	return nil
}

// validateTLSBypassClient re-checks the bypass at client construction,
// where the target host is known.
func validateTLSBypassClient(skipTLSVerify bool, baseURL, environment string, logger *slog.Logger) error {
	if err := ValidateTLSBypassConfig(skipTLSVerify, environment, nil); err != nil {
		return err
	}
	if skipTLSVerify && logger != nil {
		logger.Log(context.Background(), LevelCritical,
			"SECURITY: HTTP client created with TLS certificate verification disabled",
			"environment", environment,
			"base_url", baseURL)
	}
	return nil
}

// logTLSBypassRequest marks every request sent without certificate
// verification.
func logTLSBypassRequest(logger *slog.Logger, method, url string) {
	if logger == nil {
		return
	}
	logger.Log(context.Background(), LevelCritical,
		"SECURITY: request sent without TLS certificate verification",
		"method", method,
		"url", url)
}
