package app

import (
	"fmt"
	"os"
	"time"

	klcfg "klinecast/internal/config"
	"klinecast/internal/forecast"
	"klinecast/internal/history"
	"klinecast/internal/kronos"
	"klinecast/internal/provider"
	"klinecast/internal/store"
	"klinecast/internal/store/sqlite"
)

// AppBuilder 按配置组装各层依赖，支持在测试中替换单个构建函数。
type AppBuilder struct {
	cfg *klcfg.Config

	registryFn  func(*klcfg.Config) (*provider.Registry, error)
	predictorFn func(*klcfg.Config) (kronos.Predictor, error)
	runStoreFn  func(*klcfg.Config) (store.Store, error)
}

type AppBuilderOption func(*AppBuilder)

// WithPredictor 替换模型调用方，测试用。
func WithPredictor(p kronos.Predictor) AppBuilderOption {
	return func(b *AppBuilder) {
		b.predictorFn = func(*klcfg.Config) (kronos.Predictor, error) { return p, nil }
	}
}

// WithRunStore 替换运行记录存储，测试用。
func WithRunStore(s store.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		b.runStoreFn = func(*klcfg.Config) (store.Store, error) { return s, nil }
	}
}

func NewAppBuilder(cfg *klcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		registryFn:  buildProviderRegistry,
		predictorFn: buildPredictor,
		runStoreFn:  buildRunStore,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Build 组装应用。Kronos 本体缺失不算致命错误：下载类命令照常可用，
// 预测入口在调用时报告 predictorErr。
func (b *AppBuilder) Build() (*App, error) {
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	cacheStore, err := history.NewStore(cfg.Data.Root)
	if err != nil {
		return nil, fmt.Errorf("初始化行情缓存失败: %w", err)
	}

	registry, err := b.registryFn(cfg)
	if err != nil {
		cacheStore.Close()
		return nil, err
	}

	historySvc, err := history.NewService(history.ServiceConfig{
		Store:           cacheStore,
		Registry:        registry,
		RateLimitPerMin: cfg.Provider.RateLimitPerMin,
		FetchTimeout:    time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		cacheStore.Close()
		return nil, err
	}

	presets, err := kronos.NewRegistry(cfg.Kronos.PresetsPath)
	if err != nil {
		cacheStore.Close()
		return nil, fmt.Errorf("加载模型变体预设失败: %w", err)
	}

	runStore, err := b.runStoreFn(cfg)
	if err != nil {
		cacheStore.Close()
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		cache:   cacheStore,
		history: historySvc,
		presets: presets,
		runs:    runStore,
	}

	predictor, err := b.predictorFn(cfg)
	if err != nil {
		a.predictorErr = err
		return a, nil
	}
	var runRepo store.RunRepository
	if runStore != nil {
		runRepo = runStore.Runs()
	}
	forecastSvc, err := forecast.NewService(historySvc, predictor, runRepo)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.forecast = forecastSvc
	return a, nil
}

func buildProviderRegistry(cfg *klcfg.Config) (*provider.Registry, error) {
	timeout := time.Duration(cfg.Provider.TimeoutSeconds) * time.Second
	yahoo := provider.NewYahooSource(cfg.Provider.YahooBaseURL, timeout)
	eastmoney := provider.NewEastmoneySource(cfg.Provider.EastmoneyBaseURL, timeout)
	return provider.NewRegistry(yahoo, eastmoney)
}

func buildPredictor(cfg *klcfg.Config) (kronos.Predictor, error) {
	repoPath, err := kronos.ResolveRepoPath(cfg.Kronos.RepoPath, os.LookupEnv)
	if err != nil {
		return nil, err
	}
	return kronos.NewRunner(repoPath, cfg.Kronos.Python), nil
}

func buildRunStore(cfg *klcfg.Config) (store.Store, error) {
	if !cfg.Data.RunLog {
		return nil, nil
	}
	s, err := sqlite.NewSqliteStore(cfg.Data.RunDBPath)
	if err != nil {
		return nil, fmt.Errorf("初始化运行记录存储失败: %w", err)
	}
	return s, nil
}
