package errors

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
	Err        error
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

func (e ConfigError) Unwrap() error {
	return e.Err
}

// CommandError represents a command execution error
type CommandError struct {
	Command    string
	ExitCode   int
	Message    string
	Suggestion string
}

func (e CommandError) Error() string {
	msg := fmt.Sprintf("Command '%s' failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code: %d)", e.ExitCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// ProviderError enhances provider-specific errors with context
func ProviderError(provider string, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("%s provider error during %s", provider, operation),
		Suggestion: getProviderSuggestion(provider, err),
		Err:        err,
	}
}

// getProviderSuggestion returns helpful suggestions based on provider and error
func getProviderSuggestion(provider string, err error) string {
	errStr := err.Error()

	switch provider {
	case "credprovider", "credprovider.legacy":
		if strings.Contains(errStr, "not found") || strings.Contains(errStr, "no such file") {
			return "Install the Azure Artifacts Credential Provider (installcredprovider.sh) or set provider.executable_path"
		}
		if strings.Contains(errStr, "protocol version") {
			return "Upgrade the credential provider; only protocol versions 1.x and 2.x are supported"
		}
		if strings.Contains(errStr, "dotnet") {
			return "Install the .NET runtime and make sure 'dotnet' is on your PATH, or use a self-contained credential provider build"
		}
		if strings.Contains(errStr, "timed out") {
			return "The credential provider may be waiting for a device code login. Run interactively or raise provider.timeout_ms"
		}

	case "azure.entra", "azure.keyvault":
		if strings.Contains(errStr, "AADSTS") || strings.Contains(errStr, "credential") {
			return "Sign in with 'az login' or configure a managed identity"
		}
		if strings.Contains(errStr, "Forbidden") || strings.Contains(errStr, "403") {
			return "Check that the identity is allowed to read the secret or create PATs"
		}

	case "aws.secretsmanager", "aws.ssm":
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for secretsmanager:GetSecretValue or ssm:GetParameter"
		}
		if strings.Contains(errStr, "ResourceNotFoundException") || strings.Contains(errStr, "ParameterNotFound") {
			return "Verify the secret name and region"
		}

	case "gcp.secretmanager":
		if strings.Contains(errStr, "PermissionDenied") {
			return "Check IAM permissions: secretmanager.versions.access"
		}
		if strings.Contains(errStr, "Unauthenticated") {
			return "Set GOOGLE_APPLICATION_CREDENTIALS or run 'gcloud auth application-default login'"
		}
	}

	// Generic suggestions
	if strings.Contains(errStr, "timeout") {
		return "The operation timed out. Check your network connection and try again"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and the feed URL"
	}

	return ""
}

// WrapCommandNotFound wraps command not found errors with helpful suggestions
func WrapCommandNotFound(command string, err error) error {
	suggestions := map[string]string{
		"dotnet":                      "Install the .NET runtime from https://learn.microsoft.com/dotnet/core/install/",
		"CredentialProvider.Microsoft": "Install the credential provider from https://github.com/microsoft/artifacts-credprovider",
	}

	suggestion := suggestions[command]
	if suggestion == "" {
		suggestion = fmt.Sprintf("Make sure '%s' is installed and in your PATH", command)
	}

	msg := "command not found"
	if err != nil {
		msg = fmt.Sprintf("command not found: %v", err)
	}

	return CommandError{
		Command:    command,
		Message:    msg,
		Suggestion: suggestion,
	}
}

// IsRetryable reports whether err looks transient: a timeout, a dropped
// connection, or the feed or token service asking the caller to back off.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timed out",
		"timeout",
		"connection reset",
		"broken pipe",
		"service unavailable",
		"too many requests",
		"throttl",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// SimplifyError turns low-level failures that reach the CLI into a
// UserError with a hint. Errors that already carry a suggestion pass
// through unchanged.
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	var userErr UserError
	var cfgErr ConfigError
	var cmdErr CommandError
	if errors.As(err, &userErr) || errors.As(err, &cfgErr) || errors.As(err, &cmdErr) {
		return err
	}

	var certErr *tls.CertificateVerificationError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &certErr) || strings.Contains(err.Error(), "x509:"):
		return UserError{
			Message:    "The feed's TLS certificate could not be verified",
			Suggestion: "If a proxy re-signs HTTPS traffic, add its CA to the system trust store or set SSL_CERT_FILE",
			Err:        err,
		}
	case errors.As(err, &dnsErr):
		return UserError{
			Message:    fmt.Sprintf("Cannot resolve host %s", dnsErr.Name),
			Suggestion: "Check the feed URL and your DNS or proxy settings",
			Err:        err,
		}
	case errors.Is(err, fs.ErrPermission):
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check permissions on the config file and the credential provider directory",
			Err:        err,
		}
	case errors.Is(err, fs.ErrNotExist):
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}
	return err
}
