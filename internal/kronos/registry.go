package kronos

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"klinecast/internal/logger"
)

// presetFileSchema 约束外部档位表文件的结构。
const presetFileSchema = `{
  "type": "object",
  "properties": {
    "variants": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "properties": {
          "model_id": {"type": "string", "minLength": 1},
          "tokenizer_id": {"type": "string", "minLength": 1},
          "max_context": {"type": "integer", "minimum": 16}
        },
        "required": ["model_id", "tokenizer_id", "max_context"],
        "additionalProperties": false
      }
    }
  },
  "required": ["variants"],
  "additionalProperties": false
}`

type presetFile struct {
	Variants map[string]Preset `yaml:"variants"`
}

// Snapshot 是某一时刻生效的档位表。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Table    PresetTable
}

// ChangeListener 在 registry 重载后触发。
type ChangeListener func(Snapshot)

// Registry 管理档位表：内置默认 + 可选外部文件覆盖，
// 文件变更时热加载（serve 模式下使用）。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 构造档位注册表。path 为空时只用内置档位。
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: strings.TrimSpace(path)}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Watch 监听档位文件变化并热加载；未配置文件时为空操作。
func (r *Registry) Watch() {
	if r.path == "" || r.v != nil {
		return
	}
	v := viper.New()
	v.SetConfigFile(r.path)
	if err := v.ReadInConfig(); err != nil {
		logger.Warnf("档位表监听初始化失败: %v", err)
		return
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("档位表热加载失败: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	r.v = v
}

// OnChange 注册重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Table 返回当前档位表快照。
func (r *Registry) Table() PresetTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.Table.Clone()
}

// Snapshot 返回当前快照（含版本信息）。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		Version:  r.snapshot.Version,
		LoadedAt: r.snapshot.LoadedAt,
		Table:    r.snapshot.Table.Clone(),
	}
}

func (r *Registry) reload() error {
	table := BuiltinPresets()
	if r.path != "" {
		overlay, err := loadPresetFile(r.path)
		if err != nil {
			return err
		}
		for name, preset := range overlay {
			table[name] = preset
		}
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Table:    table,
	}
	r.mu.Unlock()
	if r.path != "" {
		logger.Infof("档位表已加载（%d 个档位，来源 %s）", len(table), filepath.Base(r.path))
	}
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := r.snapshot
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("档位表回调 panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

// loadPresetFile 读取并校验外部档位文件。
func loadPresetFile(path string) (PresetTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取档位文件失败: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("解析档位文件失败: %w", err)
	}
	if err := validatePresetDoc(doc); err != nil {
		return nil, fmt.Errorf("档位文件不符合 schema: %w", err)
	}
	var file presetFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("解析档位文件失败: %w", err)
	}
	table := make(PresetTable, len(file.Variants))
	for name, preset := range file.Variants {
		table[Variant(strings.ToLower(strings.TrimSpace(name)))] = preset
	}
	return table, nil
}

func validatePresetDoc(doc any) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("presets.json", strings.NewReader(presetFileSchema)); err != nil {
		return err
	}
	schema, err := compiler.Compile("presets.json")
	if err != nil {
		return err
	}
	return schema.Validate(normalizeYAML(doc))
}

// normalizeYAML 把 yaml 解出的 map[string]any 里残留的非 JSON 类型归一化，
// 以便 jsonschema 校验。
func normalizeYAML(doc any) any {
	data, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return doc
	}
	return out
}
