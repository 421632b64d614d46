package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RPC_URL", "https://sepolia.base.org")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, int64(DefaultChainID), cfg.ChainID)
	assert.Equal(t, DefaultGuardianThreshold, cfg.GuardianThreshold)
	assert.Equal(t, DefaultSentinelInterval, cfg.SentinelInterval)
	assert.Equal(t, DefaultMaxAlerts, cfg.MaxAlerts)
}

func TestValidatePrivateKey(t *testing.T) {
	cfg := &Config{
		RPCURL:            "http://localhost:8545",
		PrivateKey:        "deadbeef",
		GuardianThreshold: 70,
		SentinelThreshold: 60,
		SentinelInterval:  time.Minute,
		MaxAlerts:         100,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PRIVATE_KEY")

	// 64 hex chars with 0x prefix is accepted
	cfg.PrivateKey = "0x" + string(make64hex())
	assert.NoError(t, cfg.Validate())
}

func TestValidateThresholdBounds(t *testing.T) {
	cfg := &Config{
		RPCURL:            "http://localhost:8545",
		GuardianThreshold: 101,
		SentinelThreshold: 60,
		SentinelInterval:  time.Minute,
		MaxAlerts:         100,
	}
	assert.Error(t, cfg.Validate())

	cfg.GuardianThreshold = 70
	cfg.SentinelInterval = 100 * time.Millisecond
	assert.Error(t, cfg.Validate())

	cfg.SentinelInterval = time.Minute
	cfg.MaxAlerts = 0
	assert.Error(t, cfg.Validate())
}

func TestSentinelIntervalFromEnv(t *testing.T) {
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("SENTINEL_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.SentinelInterval)
}

func make64hex() []byte {
	b := make([]byte, 64)
	for i := range b {
		b[i] = 'a'
	}
	return b
}
