package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/loopwire/agentcore/config"
	"github.com/loopwire/agentcore/model"
	"github.com/loopwire/agentcore/telemetry"
)

// Registry resolves a provider name and a concrete model ID for a
// model.Request, implementing spec §9's Open Question on model-id provider
// precedence: the precedence list is always read from the loaded YAML
// config (config.Config.ModelPrecedence), never hardcoded, and every
// resolution is logged.
//
// Grounded on the teacher's Client.resolveModelID
// (features/model/anthropic/client.go): Request.Model wins outright when
// set; otherwise a ModelClass maps to a provider-specific configured
// identifier, falling back to the provider's DefaultModel.
type Registry struct {
	cfg    *config.Config
	logger telemetry.Logger
}

// NewRegistry builds a Registry from a loaded config document.
func NewRegistry(cfg *config.Config, logger telemetry.Logger) *Registry {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Registry{cfg: cfg, logger: logger}
}

// Resolve splits a "provider/modelId" or bare "modelId" identifier (per
// spec §4.4) against the configured providers, returning the resolved
// provider name and concrete model ID to send upstream.
func (r *Registry) Resolve(ctx context.Context, req *model.Request) (providerName, modelID string, err error) {
	providerName = req.Provider
	if idx := strings.IndexByte(req.Model, '/'); providerName == "" && idx > 0 {
		providerName = req.Model[:idx]
	}
	if providerName == "" {
		for _, candidate := range r.cfg.ModelPrecedence {
			if candidate == "request" || candidate == "provider_default" {
				continue
			}
			if _, ok := r.cfg.Providers[candidate]; ok {
				providerName = candidate
				break
			}
		}
	}
	if providerName == "" {
		return "", "", fmt.Errorf("provider: no provider could be resolved for model %q", req.Model)
	}

	prov, ok := r.cfg.Providers[providerName]
	if !ok {
		return "", "", fmt.Errorf("provider: unknown provider %q", providerName)
	}

	modelID = req.Model
	if idx := strings.IndexByte(modelID, '/'); idx > 0 && modelID[:idx] == providerName {
		modelID = modelID[idx+1:]
	}
	if modelID == "" {
		modelID = prov.DefaultModel
	}
	if modelID == "" {
		return "", "", fmt.Errorf("provider: no model id resolved for provider %q", providerName)
	}

	r.logger.Info(ctx, "provider: resolved model",
		"requestedProvider", req.Provider, "requestedModel", req.Model,
		"resolvedProvider", providerName, "resolvedModel", modelID)

	return providerName, modelID, nil
}
