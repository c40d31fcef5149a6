package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwire/agentcore/model"
	"github.com/loopwire/agentcore/provider"
)

func TestExtractUsagePrefersObservedWhenBothKnown(t *testing.T) {
	observed := model.Usage{InputTokens: model.UsageKnown(10), OutputTokens: model.UsageKnown(20)}
	raw := []byte(`{"providerMetadata":{"gateway":{"usage":{"promptTokens":999,"completionTokens":999}}}}`)

	got := provider.ExtractUsage("gateway", raw, observed)
	require.NotNil(t, got.InputTokens)
	require.NotNil(t, got.OutputTokens)
	assert.Equal(t, int64(10), *got.InputTokens)
	assert.Equal(t, int64(20), *got.OutputTokens)
}

func TestExtractUsageFallsBackToMetadataEnvelope(t *testing.T) {
	observed := model.Usage{}
	raw := []byte(`{"providerMetadata":{"gateway":{"usage":{"promptTokens":42,"completionTokens":7}}}}`)

	got := provider.ExtractUsage("gateway", raw, observed)
	require.NotNil(t, got.InputTokens)
	require.NotNil(t, got.OutputTokens)
	assert.Equal(t, int64(42), *got.InputTokens)
	assert.Equal(t, int64(7), *got.OutputTokens)
}

func TestExtractUsageFillsOnlyTheMissingField(t *testing.T) {
	observed := model.Usage{InputTokens: model.UsageKnown(5)}
	raw := []byte(`{"providerMetadata":{"gateway":{"usage":{"promptTokens":999,"completionTokens":11}}}}`)

	got := provider.ExtractUsage("gateway", raw, observed)
	require.NotNil(t, got.InputTokens)
	require.NotNil(t, got.OutputTokens)
	assert.Equal(t, int64(5), *got.InputTokens, "already-known field must not be overwritten by the envelope")
	assert.Equal(t, int64(11), *got.OutputTokens)
}

func TestExtractUsageStaysUnknownWithoutAnEnvelope(t *testing.T) {
	observed := model.Usage{}
	raw := []byte(`{"id":"resp_1"}`)

	got := provider.ExtractUsage("gateway", raw, observed)
	assert.Nil(t, got.InputTokens)
	assert.Nil(t, got.OutputTokens)
	assert.False(t, got.Known())
}
