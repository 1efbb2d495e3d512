package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acteon/acteon/internal/cascade"
)

const sampleConfig = `
log_level: debug
data_dir: /var/lib/acteon
actions_dir: ./actions
timeouts:
  step: 15s
  llm: 30s
endpoints:
  - id: openrouter
    url: https://openrouter.ai/api/v1/chat/completions
    credential: ${ACTEON_TEST_KEY}
    extra_headers:
      X-Title: Acteon
  - id: local
    url: http://localhost:11434/v1/chat/completions
cascade:
  tiers:
    HIGH:
      - endpoint: openrouter
        model: big-model
        provider: deepinfra
    LOW:
      - endpoint: local
        model: small-model
        no_tool_choice: true
health:
  backend: redis
  redis_addr: localhost:6379
verify:
  schedule: "0 */6 * * *"
`

func TestParseConfig(t *testing.T) {
	t.Setenv("ACTEON_TEST_KEY", "sk-test")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 15*time.Second, cfg.Timeouts.StepTimeout(20*time.Second))
	assert.Equal(t, 30*time.Second, cfg.Timeouts.LLMTimeout(40*time.Second))

	eps := cfg.EndpointMap()
	require.Contains(t, eps, "openrouter")
	assert.Equal(t, "sk-test", eps["openrouter"].Credential)
	assert.Equal(t, "Acteon", eps["openrouter"].ExtraHeaders["X-Title"])

	high := cfg.Cascade.Tiers[cascade.TierHigh]
	require.Len(t, high, 1)
	assert.Equal(t, "deepinfra", high[0].ProviderHint)
	low := cfg.Cascade.Tiers[cascade.TierLow]
	require.Len(t, low, 1)
	assert.True(t, low[0].NoToolChoice)

	assert.Equal(t, "redis", cfg.Health.Backend)
	assert.Equal(t, "0 */6 * * *", cfg.Verify.Schedule)
}

func TestParseUnexpandedEnvKept(t *testing.T) {
	cfg, err := Parse([]byte(`
endpoints:
  - id: a
    url: http://x
    credential: ${ACTEON_DEFINITELY_UNSET}
`))
	require.NoError(t, err)
	assert.Equal(t, "${ACTEON_DEFINITELY_UNSET}", cfg.Endpoints[0].Credential)
}

func TestParseRejectsUnknownCascadeEndpoint(t *testing.T) {
	_, err := Parse([]byte(`
endpoints:
  - id: a
    url: http://x
cascade:
  tiers:
    LOW:
      - endpoint: ghost
        model: m
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestTimeoutFallbacks(t *testing.T) {
	var tc TimeoutConfig
	assert.Equal(t, 20*time.Second, tc.StepTimeout(20*time.Second))
	tc.Step = "garbage"
	assert.Equal(t, 20*time.Second, tc.StepTimeout(20*time.Second))
}
