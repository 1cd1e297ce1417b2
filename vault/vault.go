// Package vault implements the Credential Vault (§4.1): it resolves
// (providerId, keyId) pairs to the bearer secret used on the wire, and
// produces a one-way Fingerprint so callers elsewhere in the pipeline can
// identify a credential without ever holding the secret itself.
package vault

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/BaSui01/llmrouter/types"
)

// Secret is the bearer string used on the wire. It is never logged, never
// JSON-marshalled, and its String method is masked so an accidental
// fmt.Sprintf/%v never leaks it into a log line.
type Secret string

func (Secret) String() string { return "Secret{***}" }

// MarshalJSON masks the secret so an accidental json.Marshal of a struct
// embedding a Secret field (a debug snapshot, a log record) never writes the
// raw bytes to disk.
func (Secret) MarshalJSON() ([]byte, error) { return []byte(`"Secret{***}"`), nil }

// Fingerprint is a stable, one-way identifier for a credential. It never
// leaks Secret; Vault derives it with HMAC-SHA256 keyed by a process-local
// pepper so two processes never produce comparable fingerprints for the
// same key (preventing cross-process credential correlation from a leaked
// fingerprint value).
type Fingerprint string

// binding is one (providerId, keyId) -> secret entry, populated once at
// startup from the resolved configuration's keyVault (§6) and never mutated
// afterward.
type binding struct {
	authType string // "apiKey" | "oauth"
	secret   Secret
	enabled  bool
}

// Vault is read-only after Build; readers synchronise only by virtue of
// holding an immutable map reference, matching §5's "Vault is read-only
// after startup" resource policy.
type Vault struct {
	pepper   []byte
	bindings map[string]binding // key: providerId + "\x00" + keyId
}

// CredentialRef names one entry in the resolved keyVault.
type CredentialRef struct {
	ProviderID string
	KeyID      string
	AuthType   string // "apiKey" | "oauth"
	Value      string
	Enabled    bool
}

// Build populates a Vault once from the resolved configuration's keyVault
// section (§6). Runtime mutation is not supported; to rotate credentials the
// process is restarted with a new resolved configuration.
func Build(refs []CredentialRef, pepper []byte) *Vault {
	v := &Vault{
		pepper:   append([]byte(nil), pepper...),
		bindings: make(map[string]binding, len(refs)),
	}
	for _, r := range refs {
		v.bindings[bindingKey(r.ProviderID, r.KeyID)] = binding{
			authType: r.AuthType,
			secret:   Secret(r.Value),
			enabled:  r.Enabled,
		}
	}
	return v
}

func bindingKey(providerID, keyID string) string {
	return providerID + "\x00" + keyID
}

// Resolve answers resolve(providerId, keyId) -> Secret (§4.1). It fails with
// CredentialMissing if no binding exists or the binding is disabled.
func (v *Vault) Resolve(providerID, keyID string) (Secret, string, error) {
	b, ok := v.bindings[bindingKey(providerID, keyID)]
	if !ok || !b.enabled {
		return "", "", types.NewRouterError(types.CredentialMissing,
			fmt.Sprintf("no enabled credential binding for provider=%s key=%s", providerID, keyID))
	}
	return b.secret, b.authType, nil
}

// Fingerprint answers fingerprint(providerId, keyId) -> Fingerprint (§4.1).
// It succeeds even for an unknown binding (fingerprinting an absent
// credential is well-defined; only Resolve fails on CredentialMissing) so
// that the Health Tracker can fingerprint a candidate before ever calling
// Resolve.
func (v *Vault) Fingerprint(providerID, keyID string) Fingerprint {
	b, ok := v.bindings[bindingKey(providerID, keyID)]
	if !ok {
		return v.hash(providerID, keyID, "")
	}
	return v.hash(providerID, keyID, string(b.secret))
}

// ExpiresWithin reports whether secret — an OAuth bearer token — carries an
// "exp" claim that falls within skew of now, so the Provider Adapter can
// refresh proactively instead of waiting for the reactive 401 path (§4.2).
// Signature verification is disabled: the vault never holds the issuer's
// signing key, only the opaque token, and the expiry claim is all it needs.
// A token with no parseable "exp" claim is treated as not expiring.
func ExpiresWithin(secret Secret, skew time.Duration) (bool, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	_, _, err := parser.ParseUnverified(string(secret), claims)
	if err != nil {
		return false, fmt.Errorf("parse oauth token: %w", err)
	}
	expiresAt, err := claims.GetExpirationTime()
	if err != nil || expiresAt == nil {
		return false, nil
	}
	return time.Until(expiresAt.Time) <= skew, nil
}

func (v *Vault) hash(providerID, keyID, secret string) Fingerprint {
	mac := hmac.New(sha256.New, v.pepper)
	mac.Write([]byte(providerID))
	mac.Write([]byte{0})
	mac.Write([]byte(keyID))
	mac.Write([]byte{0})
	mac.Write([]byte(secret))
	return Fingerprint(hex.EncodeToString(mac.Sum(nil)))
}
