package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/internal/fault"
)

const testSchemaDoc = `
strategies:
  range:
    type: object
    required: [levels, target_price]
    properties:
      levels:
        type: array
        minItems: 1
        items:
          type: object
          required: [price, size]
      target_price:
        type: [string, number]
      stop_price:
        type: [string, number]
      max_position:
        type: [string, number]
      entry_conditions:
        type: object
  breakout:
    type: object
    required: [breakout_price, amount, take_profit_1, take_profit_2, stop_loss]
  stop_loss_take_profit:
    type: object
    required: [current_position, entry_price, take_profit_price, stop_loss_price]
`

func writeSchemaFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSchemaDoc), 0o644))
	return path
}

func TestSchemaRegistryValidates(t *testing.T) {
	reg, err := NewSchemaRegistry(writeSchemaFile(t))
	require.NoError(t, err)

	valid := map[string]any{
		"levels":       []any{map[string]any{"price": "2400", "size": "1"}},
		"target_price": "2600",
	}
	assert.NoError(t, reg.Validate(KindRange, valid))
}

func TestSchemaRegistryNamesFailedField(t *testing.T) {
	reg, err := NewSchemaRegistry(writeSchemaFile(t))
	require.NoError(t, err)

	missing := map[string]any{
		"levels": []any{map[string]any{"price": "2400", "size": "1"}},
	}
	err = reg.Validate(KindRange, missing)
	require.Error(t, err)
	assert.Equal(t, fault.ConfigValidation, fault.KindOf(err))
	assert.Contains(t, err.Error(), "target_price")
}

func TestSchemaRegistryUnknownKind(t *testing.T) {
	reg, err := NewSchemaRegistry(writeSchemaFile(t))
	require.NoError(t, err)

	err = reg.Validate(Kind("martingale"), map[string]any{})
	require.Error(t, err)
	assert.Equal(t, fault.ConfigValidation, fault.KindOf(err))
}

func TestSchemaRegistryEntryConditionsOpaque(t *testing.T) {
	reg, err := NewSchemaRegistry(writeSchemaFile(t))
	require.NoError(t, err)

	cfg := map[string]any{
		"levels":       []any{map[string]any{"price": "2400", "size": "1"}},
		"target_price": "2600",
		"entry_conditions": map[string]any{
			"rsi_below":    30,
			"volume_above": "1000000",
		},
	}
	assert.NoError(t, reg.Validate(KindRange, cfg), "entry_conditions passes through unexamined")
}

func TestSchemaRegistryRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strategies:\n  martingale:\n    type: object\n"), 0o644))

	_, err := NewSchemaRegistry(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestSchemaRegistryReload(t *testing.T) {
	path := writeSchemaFile(t)
	reg, err := NewSchemaRegistry(path)
	require.NoError(t, err)
	before := reg.Version()

	cfg := map[string]any{
		"levels":       []any{map[string]any{"price": "2400", "size": "1"}},
		"target_price": "2600",
	}
	require.NoError(t, reg.Validate(KindRange, cfg))

	// Tighten the range schema so target_price becomes string-only.
	tightened := `
strategies:
  range:
    type: object
    required: [levels, target_price]
    properties:
      target_price:
        type: string
  breakout:
    type: object
  stop_loss_take_profit:
    type: object
`
	require.NoError(t, os.WriteFile(path, []byte(tightened), 0o644))
	require.NoError(t, reg.reload())
	assert.Greater(t, reg.Version(), before)

	cfg["target_price"] = 2600.0
	err = reg.Validate(KindRange, cfg)
	require.Error(t, err)
	assert.Equal(t, fault.ConfigValidation, fault.KindOf(err))
}
