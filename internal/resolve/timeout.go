package resolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	dserrors "github.com/systmms/feedcred/internal/errors"
)

// withProviderTimeout creates a context with timeout for provider operations
func withProviderTimeout(ctx context.Context, timeoutMs int) (context.Context, context.CancelFunc) {
	timeout := time.Duration(timeoutMs) * time.Millisecond
	return context.WithTimeout(ctx, timeout)
}

// isTimeoutError checks if an error is a timeout error and wraps it with helpful context
func isTimeoutError(err error, providerName string, timeoutMs int) error {
	if errors.Is(err, context.DeadlineExceeded) {
		details := "Operation exceeded the provider read timeout"
		if timeoutMs > 0 {
			details = fmt.Sprintf("Operation exceeded %dms timeout", timeoutMs)
		}
		return dserrors.UserError{
			Message:    "Credential lookup timed out",
			Details:    details,
			Suggestion: getTimeoutSuggestion(providerName, timeoutMs),
			Err:        err,
		}
	}
	return err
}

// getTimeoutSuggestion provides helpful suggestions for timeout errors
func getTimeoutSuggestion(providerName string, timeoutMs int) string {
	timeoutSec := timeoutMs / 1000

	switch providerName {
	case "credprovider", "credprovider.legacy":
		if timeoutSec > 0 && timeoutSec < 60 {
			return "Device code sign-in can take a while. Try increasing provider.timeout_ms to 300000"
		}
		return "The credential provider may be waiting for sign-in. Run interactively or set ARTIFACTS_KEYRING_NONINTERACTIVE_MODE=false"

	case "azure.entra":
		return "Check Azure connectivity and complete any pending device code sign-in"

	case "aws.secretsmanager", "aws.ssm":
		if timeoutSec < 5 {
			return "AWS API can be slow. Try increasing provider.timeout_ms to 10000"
		}
		return "Check AWS connectivity and credentials. Verify region is correct"

	case "gcp.secretmanager":
		if timeoutSec < 5 {
			return "Google Cloud API can be slow. Try increasing provider.timeout_ms to 10000"
		}
		return "Check Google Cloud connectivity and authentication"

	case "azure.keyvault":
		if timeoutSec < 5 {
			return "Azure API can be slow. Try increasing provider.timeout_ms to 10000"
		}
		return "Check Azure connectivity and authentication"
	}

	// Generic suggestions
	if timeoutSec < 10 {
		return "Credential lookup timed out. Try increasing provider.timeout_ms"
	}
	return "Check network connectivity and provider authentication. Consider increasing provider.timeout_ms if the provider is consistently slow"
}
