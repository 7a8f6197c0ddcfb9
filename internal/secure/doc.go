// Package secure keeps feed secrets encrypted in memory while they wait to
// be handed to a caller.
//
// SecureBuffer wraps a memguard.Enclave: the plaintext is sealed with
// XSalsa20Poly1305 and only decrypted into an mlocked buffer for the
// moment it is read. Cache builds on it to hold a password between the
// "get credential" and "get password" calls a keyring client makes.
//
// # Usage
//
//	cache := secure.NewCache()
//	_ = cache.Put(service, username, password)
//
//	// later, usually in the next call
//	if pw, ok := cache.Pop(service, username); ok {
//	    return pw
//	}
//
// Call memguard.Purge (through memguard.CatchInterrupt or a deferred call
// in main) to wipe every enclave key at exit.
//
// # Limits
//
// This does not protect against an attacker who can read the process's
// memory while a secret is revealed, or against hardware attacks.
package secure
