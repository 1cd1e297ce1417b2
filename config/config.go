// Package config holds the plain-struct shape of the resolved pipeline
// configuration (§6): the boundary an external configuration collaborator
// hands to the core once, at startup. Nothing here loads, merges, or
// watches a file — that is explicitly out of scope (§9's Open Question
// decision) — these are data types only, built from yaml-tagged struct
// fields the way the teacher's own PolicyManager configuration is (§10.3,
// grounded on `llm/config/types.go`).
package config

// Resolved is the entire internal configuration boundary of §6.
type Resolved struct {
	Pipelines []PipelineConfig `yaml:"pipelines"`
	Routes    RoutePools       `yaml:"routePools"`
	RouteMeta RouteMeta        `yaml:"routeMeta"`
	KeyVault  KeyVaultConfig   `yaml:"keyVault"`

	// StreamTextWindowMs, RetryBudget, and BlacklistThreshold mirror the
	// three environment-variable overrides named in §6; zero means "use the
	// package default" at every consuming component.
	StreamTextWindowMs int `yaml:"streamTextWindowMs,omitempty"`
	RetryBudget        int `yaml:"retryBudget,omitempty"`
	BlacklistThreshold int `yaml:"blacklistThreshold,omitempty"`
}

// PipelineConfig describes one pipeline assembly: the four stage bindings a
// Blueprint resolves to, plus the credential it authenticates outbound calls
// with.
type PipelineConfig struct {
	ID      string          `yaml:"id"`
	Modules PipelineModules `yaml:"modules"`
	AuthRef AuthRef         `yaml:"authRef"`
	// Settings carries stage-specific tuning (text-coalescing window,
	// per-model timeout, extra headers) that doesn't warrant its own typed
	// field; components that care parse the keys they recognize.
	Settings map[string]string `yaml:"settings,omitempty"`
}

// PipelineModules names the four stage bindings of §4.6 by the config key
// each one is looked up under in pipeline.StageFactories.
type PipelineModules struct {
	Switch        string `yaml:"switch"`
	Workflow      string `yaml:"workflow"`
	Compatibility string `yaml:"compatibility"`
	Provider      string `yaml:"provider"`
}

// AuthRef names one Vault binding by (providerId, keyId).
type AuthRef struct {
	ProviderID string `yaml:"providerId"`
	KeyID      string `yaml:"keyId"`
}

// RoutePools maps a request category to its ordered candidate pipeline IDs.
type RoutePools map[string][]string

// RouteMeta maps a pipelineId to the provider/model/key it targets.
type RouteMeta map[string]RouteTarget

// RouteTarget is one pipelineId's resolved target.
type RouteTarget struct {
	ProviderID string `yaml:"providerId"`
	ModelID    string `yaml:"modelId"`
	KeyID      string `yaml:"keyId"`
}

// KeyVaultConfig mirrors §6's `keyVault: { providerId -> { keyId -> {...} } }`
// exactly; it is consumed once by vault.Build and never surfaced again.
type KeyVaultConfig map[string]map[string]KeyEntry

// KeyEntry is one (providerId, keyId) binding as seen by the Vault before it
// is folded into a vault.CredentialRef.
type KeyEntry struct {
	Type    string `yaml:"type"` // "apiKey" | "oauth"
	Value   string `yaml:"value"`
	Enabled bool   `yaml:"enabled"`
}
