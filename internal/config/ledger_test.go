package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLedgerPolicyDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewLedgerPolicyHolder(Config{}, zap.NewNop())
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, DefaultLedgerPolicy().Risk, policy.Risk)
	assert.Equal(t, 30, policy.DefaultPaymentTermsDays)
	assert.Equal(t, "17:30", policy.WorkWindow.End)
}

func TestLedgerPolicyReadsFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yml")
	content := []byte(`ledger:
  risk:
    mediumFrom: 1
    highFrom: 15
    criticalFrom: 45
  defaultPaymentTermsDays: 45
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewLedgerPolicyHolder(Config{Ledger: LedgerConfig{PolicyPath: path}}, zap.NewNop())
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, 15, policy.Risk.HighFrom)
	assert.Equal(t, 45, policy.Risk.CriticalFrom)
	assert.Equal(t, 45, policy.DefaultPaymentTermsDays)
	assert.Len(t, policy.AgingBuckets, 5)
}

func TestLedgerPolicyRejectsNonIncreasingThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yml")
	content := []byte(`ledger:
  risk:
    mediumFrom: 10
    highFrom: 5
    criticalFrom: 45
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	_, err := NewLedgerPolicyHolder(Config{Ledger: LedgerConfig{PolicyPath: path}}, zap.NewNop())
	assert.Error(t, err)
}

func TestNilHolderFallsBackToDefaults(t *testing.T) {
	var holder *LedgerPolicyHolder
	assert.Equal(t, DefaultLedgerPolicy().Risk, holder.Get().Risk)
}
