// Package secretstore exposes feed credentials through a keyring-shaped API.
//
// Tools such as pip and twine look credentials up by service URL and
// username. CredentialSource answers those lookups for Azure Artifacts
// hosts by asking a credential resolver, and leaves every other host to the
// operating system keyring when a fallback is configured.
//
// # Lookups
//
// GetCredential returns the username and password for a service URL. The
// password is also kept, encrypted in memory, until a matching GetPassword
// call takes it:
//
//	src := secretstore.New(resolver, secretstore.Options{}, logger)
//	cred, err := src.GetCredential(ctx, "https://pkgs.dev.azure.com/org/_packaging/feed/pypi/upload/", "")
//	if errors.Is(err, secretstore.ErrNotFound) {
//	    // not an Azure Artifacts feed, or no credentials
//	}
//
// Hosts are matched on the URL's host alone. Any userinfo in the URL is
// ignored.
//
// # Writes
//
// Feed credentials are minted on demand and never stored, so SetPassword and
// DeletePassword only work against the fallback keyring. Without a fallback
// they return ErrNotImplemented.
package secretstore
