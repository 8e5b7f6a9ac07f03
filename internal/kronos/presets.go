package kronos

import (
	"sort"
	"strings"
)

// Variant 是 Kronos 模型档位名。
type Variant string

const (
	VariantMini  Variant = "mini"
	VariantSmall Variant = "small"
	VariantBase  Variant = "base"

	// DefaultVariant 在 CLI 与环境变量均未指定时使用。
	DefaultVariant = VariantMini
)

// Preset 绑定某个档位的模型、分词器与上下文上限。
// MaxContext 同时是该档位的硬上限：解析后的值只会被钳到它以下。
type Preset struct {
	ModelID     string `yaml:"model_id" json:"model_id"`
	TokenizerID string `yaml:"tokenizer_id" json:"tokenizer_id"`
	MaxContext  int    `yaml:"max_context" json:"max_context"`
}

// PresetTable 是档位名到 Preset 的映射。
type PresetTable map[Variant]Preset

// BuiltinPresets 返回 Kronos model card 中的默认档位表。
func BuiltinPresets() PresetTable {
	return PresetTable{
		VariantMini: {
			ModelID:     "NeoQuasar/Kronos-mini",
			TokenizerID: "NeoQuasar/Kronos-Tokenizer-2k",
			MaxContext:  2048,
		},
		VariantSmall: {
			ModelID:     "NeoQuasar/Kronos-small",
			TokenizerID: "NeoQuasar/Kronos-Tokenizer-base",
			MaxContext:  512,
		},
		VariantBase: {
			ModelID:     "NeoQuasar/Kronos-base",
			TokenizerID: "NeoQuasar/Kronos-Tokenizer-base",
			MaxContext:  512,
		},
	}
}

// Variants 返回表中所有档位名（排序后）。
func (t PresetTable) Variants() []string {
	names := make([]string, 0, len(t))
	for v := range t {
		names = append(names, string(v))
	}
	sort.Strings(names)
	return names
}

// Lookup 返回档位的 Preset（档位名大小写不敏感）。
func (t PresetTable) Lookup(v Variant) (Preset, bool) {
	p, ok := t[Variant(strings.ToLower(strings.TrimSpace(string(v))))]
	return p, ok
}

// Clone 返回表的浅拷贝，避免调用方改写共享状态。
func (t PresetTable) Clone() PresetTable {
	out := make(PresetTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
