package providers

import (
	"github.com/systmms/feedcred/pkg/provider"
)

// ToAuthError converts provider-specific errors to the standard AuthError
func ToAuthError(providerName string, err error) provider.AuthError {
	return provider.AuthError{
		Provider: providerName,
		Message:  err.Error(),
	}
}
