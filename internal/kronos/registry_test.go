package kronos

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePresetFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistryBuiltinOnly(t *testing.T) {
	r, err := NewRegistry("")
	require.NoError(t, err)
	table := r.Table()
	assert.Len(t, table, 3)
	preset, ok := table.Lookup(DefaultVariant)
	require.True(t, ok)
	assert.Equal(t, "NeoQuasar/Kronos-mini", preset.ModelID)
}

func TestRegistryFileOverlay(t *testing.T) {
	path := writePresetFile(t, `
variants:
  mini:
    model_id: local/Kronos-mini-ft
    tokenizer_id: local/Tokenizer-2k
    max_context: 1024
  large:
    model_id: local/Kronos-large
    tokenizer_id: local/Tokenizer-base
    max_context: 768
`)
	r, err := NewRegistry(path)
	require.NoError(t, err)
	table := r.Table()

	// 覆盖内置 mini
	mini, ok := table.Lookup("mini")
	require.True(t, ok)
	assert.Equal(t, "local/Kronos-mini-ft", mini.ModelID)
	assert.Equal(t, 1024, mini.MaxContext)

	// 新增档位
	large, ok := table.Lookup("large")
	require.True(t, ok)
	assert.Equal(t, 768, large.MaxContext)

	// 未覆盖的内置档位保留
	_, ok = table.Lookup("base")
	assert.True(t, ok)
}

func TestRegistryRejectsInvalidFile(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"缺少必填字段", "variants:\n  mini:\n    model_id: x\n"},
		{"max_context 低于下限", "variants:\n  mini:\n    model_id: x\n    tokenizer_id: y\n    max_context: 8\n"},
		{"未知顶层键", "presets:\n  mini: {}\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegistry(writePresetFile(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestRegistryTableIsACopy(t *testing.T) {
	r, err := NewRegistry("")
	require.NoError(t, err)
	table := r.Table()
	table["mini"] = Preset{ModelID: "mutated", TokenizerID: "x", MaxContext: 99}

	fresh, ok := r.Table().Lookup("mini")
	require.True(t, ok)
	assert.Equal(t, "NeoQuasar/Kronos-mini", fresh.ModelID)
}

func TestRegistrySnapshotVersionAdvancesOnReload(t *testing.T) {
	path := writePresetFile(t, `
variants:
  mini:
    model_id: local/a
    tokenizer_id: local/b
    max_context: 256
`)
	r, err := NewRegistry(path)
	require.NoError(t, err)
	v1 := r.Snapshot().Version

	require.NoError(t, r.reload())
	assert.Greater(t, r.Snapshot().Version, v1)
}
