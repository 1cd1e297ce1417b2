package pipeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmrouter/compatibility"
	"github.com/BaSui01/llmrouter/config"
	"github.com/BaSui01/llmrouter/dialect"
	"github.com/BaSui01/llmrouter/provider"
)

// StageKind is the closed enum of stage slots a pipeline assembly fills
// (§4.6): exactly four, never an open string.
type StageKind string

const (
	KindSwitch        StageKind = "switch"
	KindWorkflow      StageKind = "workflow"
	KindCompatibility StageKind = "compatibility"
	KindProvider      StageKind = "provider"
)

// BuildContext carries the per-pipeline values a StageFactory needs. Not
// every field matters to every kind: the switch factories read none of them,
// the workflow factory reads StreamPolicy/TextWindow, and the provider
// factory reads ProviderConfig/Refresher/Logger.
type BuildContext struct {
	PipelineID     string
	ProcessMode    ProcessMode
	StreamPolicy   StreamingPolicy
	TextWindow     time.Duration
	CompatConfig   compatibility.Config
	ProviderConfig provider.Config
	Refresher      provider.TokenRefresher
	Logger         *zap.Logger
}

// StageFactory builds one named stage implementation from a BuildContext.
// The concrete return type varies by StageKind: dialect.Codec for
// KindSwitch, Workflow for KindWorkflow, *compatibility.Chain for
// KindCompatibility, provider.Adapter for KindProvider. Build type-asserts
// it back after lookup.
type StageFactory func(BuildContext) (any, error)

// StageFactories is the closed, statically typed stage-factory table of
// §11.5/§9: a map[StageKind]map[string]StageFactory built by init()
// registration, replacing the teacher's string-keyed dynamic
// ProviderRegistry (llm/registry.go) with a key space that is a Go type,
// not an open string. An unrecognized module name fails in Build, at
// startup, rather than at the first request that reaches it.
var StageFactories = map[StageKind]map[string]StageFactory{}

func registerStage(kind StageKind, name string, f StageFactory) {
	if StageFactories[kind] == nil {
		StageFactories[kind] = make(map[string]StageFactory)
	}
	StageFactories[kind][name] = f
}

func init() {
	registerStage(KindSwitch, "chat", func(BuildContext) (any, error) { return dialect.ChatCodec{}, nil })
	registerStage(KindSwitch, "responses", func(BuildContext) (any, error) { return dialect.ResponsesCodec{}, nil })
	registerStage(KindSwitch, "anthropic", func(BuildContext) (any, error) { return dialect.AnthropicCodec{}, nil })
	registerStage(KindSwitch, "passthrough", func(BuildContext) (any, error) { return nil, nil })

	registerStage(KindWorkflow, "default", func(ctx BuildContext) (any, error) {
		return NewWorkflow(ctx.StreamPolicy, ctx.TextWindow), nil
	})

	registerStage(KindCompatibility, "none", func(BuildContext) (any, error) { return nil, nil })
	registerStage(KindCompatibility, "passthrough", func(BuildContext) (any, error) {
		return compatibility.NewChain(compatibility.Passthrough{}), nil
	})
	registerStage(KindCompatibility, "openai-compat", func(BuildContext) (any, error) {
		return compatibility.NewChain(
			compatibility.FieldRename{},
			compatibility.RoleNormalization{},
			compatibility.ThinkingFlag{},
			compatibility.ToolArgCanonicalization{},
		), nil
	})

	registerStage(KindProvider, "http", func(ctx BuildContext) (any, error) {
		return provider.New(ctx.ProviderConfig, ctx.Refresher, ctx.Logger), nil
	})
}

// lookupStage resolves one (kind, name) pair against StageFactories.
func lookupStage(kind StageKind, name string, bctx BuildContext) (any, error) {
	factories, ok := StageFactories[kind]
	if !ok {
		return nil, fmt.Errorf("pipeline: no stage factories registered for kind %q", kind)
	}
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown %s module %q", kind, name)
	}
	return factory(bctx)
}

// Build assembles an Instance from a config.PipelineConfig's declared
// module names, looking each one up in StageFactories. It is the one place
// SPEC_FULL.md's configuration boundary (§6) crosses into a live pipeline
// assembly.
func Build(pc config.PipelineConfig, mode ProcessMode, bctx BuildContext, recorder Recorder) (*Instance, error) {
	bctx.PipelineID = pc.ID
	bctx.ProcessMode = mode

	switchImpl, err := lookupStage(KindSwitch, pc.Modules.Switch, bctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", pc.ID, err)
	}
	var clientCodec dialect.Codec
	if switchImpl != nil {
		clientCodec, _ = switchImpl.(dialect.Codec)
	}

	workflowImpl, err := lookupStage(KindWorkflow, pc.Modules.Workflow, bctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", pc.ID, err)
	}
	workflow, _ := workflowImpl.(Workflow)

	compatImpl, err := lookupStage(KindCompatibility, pc.Modules.Compatibility, bctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", pc.ID, err)
	}
	var compat *compatibility.Chain
	if compatImpl != nil {
		compat, _ = compatImpl.(*compatibility.Chain)
	}

	providerImpl, err := lookupStage(KindProvider, pc.Modules.Provider, bctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", pc.ID, err)
	}
	adapter, ok := providerImpl.(provider.Adapter)
	if !ok {
		return nil, fmt.Errorf("pipeline %s: provider module %q did not produce a provider.Adapter", pc.ID, pc.Modules.Provider)
	}

	blueprint := Blueprint{
		SwitchKind:        pc.Modules.Switch,
		WorkflowKind:      pc.Modules.Workflow,
		CompatibilityKind: pc.Modules.Compatibility,
		ProviderKind:      pc.Modules.Provider,
		ProviderProtocols: []string{pc.Modules.Provider},
		StreamingPolicy:   bctx.StreamPolicy,
		ProcessMode:       mode,
	}

	return NewInstance(pc.ID, blueprint, clientCodec, workflow, compat, bctx.CompatConfig, adapter, recorder, bctx.Logger), nil
}
