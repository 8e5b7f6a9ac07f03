package kronos

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// 环境变量名（与 Kronos 原生约定一致）。
const (
	EnvVariant    = "KRONOS_MODEL_VARIANT"
	EnvModelID    = "KRONOS_MODEL_ID"
	EnvTokenizer  = "KRONOS_TOKENIZER_ID"
	EnvMaxContext = "KRONOS_MAX_CONTEXT"
	EnvDevice     = "KRONOS_DEVICE"
	EnvRepoPath   = "KRONOS_REPO_PATH"
)

// MinContext 是最小可用窗口：不足以构成一条输入序列的配置直接拒绝。
const MinContext = 16

// ErrInvalidConfig 表示配置解析得到不可用的结果。
var ErrInvalidConfig = errors.New("模型配置无效")

// EnvLookup 抽象环境读取（通常传 os.LookupEnv），保证 Resolve 可测且确定。
type EnvLookup func(key string) (string, bool)

// NoEnv 是不提供任何环境变量的 EnvLookup。
func NoEnv(string) (string, bool) { return "", false }

// MapEnv 用固定映射构造 EnvLookup（测试用）。
func MapEnv(m map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// Overrides 是 CLI 显式传入的覆盖项；零值字段视为未提供。
type Overrides struct {
	Variant     string
	ModelID     string
	TokenizerID string
	MaxContext  int
	Device      string
}

// EffectiveConfig 是一次模型调用的最终配置。解析后不可变、从不持久化。
type EffectiveConfig struct {
	ModelVariant Variant `json:"model_variant"`
	ModelID      string  `json:"model_id"`
	TokenizerID  string  `json:"tokenizer_id"`
	MaxContext   int     `json:"max_context"`
	Device       string  `json:"device"`
}

// Resolve 按固定优先级合并三层配置：CLI > 环境变量 > 档位预设。
// 档位本身先行解析（CLI > 环境 > 默认 mini），再用其预设行补齐其余字段。
// max_context 超过档位硬上限时静默钳制；低于 MinContext 则报 ErrInvalidConfig。
// 纯函数：相同输入必得相同输出。
func Resolve(over Overrides, lookup EnvLookup, table PresetTable) (EffectiveConfig, error) {
	if lookup == nil {
		lookup = NoEnv
	}
	if len(table) == 0 {
		return EffectiveConfig{}, fmt.Errorf("%w: 档位表为空", ErrInvalidConfig)
	}

	variant := Variant(strings.ToLower(strings.TrimSpace(over.Variant)))
	if variant == "" {
		if v, ok := lookup(EnvVariant); ok && strings.TrimSpace(v) != "" {
			variant = Variant(strings.ToLower(strings.TrimSpace(v)))
		}
	}
	if variant == "" {
		variant = DefaultVariant
	}
	preset, ok := table.Lookup(variant)
	if !ok {
		return EffectiveConfig{}, fmt.Errorf("%w: 未知档位 %q（可选 %s）",
			ErrInvalidConfig, variant, strings.Join(table.Variants(), "/"))
	}

	cfg := EffectiveConfig{
		ModelVariant: variant,
		ModelID:      firstNonEmpty(over.ModelID, envString(lookup, EnvModelID), preset.ModelID),
		TokenizerID:  firstNonEmpty(over.TokenizerID, envString(lookup, EnvTokenizer), preset.TokenizerID),
		Device:       firstNonEmpty(over.Device, envString(lookup, EnvDevice), "auto"),
	}

	maxCtx := over.MaxContext
	if maxCtx <= 0 {
		if raw, ok := lookup(EnvMaxContext); ok && strings.TrimSpace(raw) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || n <= 0 {
				return EffectiveConfig{}, fmt.Errorf("%w: %s=%q 不是正整数", ErrInvalidConfig, EnvMaxContext, raw)
			}
			maxCtx = n
		}
	}
	if maxCtx <= 0 {
		maxCtx = preset.MaxContext
	}
	// 任何来源的值都不得高于档位硬上限，超出时静默下调
	if preset.MaxContext > 0 && maxCtx > preset.MaxContext {
		maxCtx = preset.MaxContext
	}
	if maxCtx < MinContext {
		return EffectiveConfig{}, fmt.Errorf("%w: max_context=%d 低于最小可用窗口 %d", ErrInvalidConfig, maxCtx, MinContext)
	}
	cfg.MaxContext = maxCtx

	if cfg.ModelID == "" || cfg.TokenizerID == "" {
		return EffectiveConfig{}, fmt.Errorf("%w: 档位 %s 缺少 model_id/tokenizer_id", ErrInvalidConfig, variant)
	}
	return cfg, nil
}

func envString(lookup EnvLookup, key string) string {
	if v, ok := lookup(key); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
