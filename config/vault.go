package config

import "github.com/BaSui01/llmrouter/vault"

// CredentialRefs flattens the resolved keyVault section into the
// vault.CredentialRef slice vault.Build expects — the one place config's
// data crosses into the Vault's own types, so vault/ never needs to know
// about config's yaml-tagged shape.
func (kv KeyVaultConfig) CredentialRefs() []vault.CredentialRef {
	refs := make([]vault.CredentialRef, 0, len(kv))
	for providerID, keys := range kv {
		for keyID, entry := range keys {
			refs = append(refs, vault.CredentialRef{
				ProviderID: providerID,
				KeyID:      keyID,
				AuthType:   entry.Type,
				Value:      entry.Value,
				Enabled:    entry.Enabled,
			})
		}
	}
	return refs
}
