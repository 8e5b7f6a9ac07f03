package app

import (
	"context"
	"fmt"

	klcfg "klinecast/internal/config"
	"klinecast/internal/forecast"
	"klinecast/internal/history"
	"klinecast/internal/kronos"
	"klinecast/internal/logger"
	"klinecast/internal/store"
	klhttp "klinecast/internal/transport/http"
)

// App 持有装配完成的各层服务，供 CLI 子命令与 HTTP 服务复用。
type App struct {
	cfg     *klcfg.Config
	cache   *history.Store
	history *history.Service
	presets *kronos.Registry
	runs    store.Store

	forecast     *forecast.Service
	predictorErr error
}

// NewApp 根据配置构建应用对象（不启动 HTTP 服务）。
func NewApp(cfg *klcfg.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(cfg, opts)
}

func (a *App) Config() *klcfg.Config     { return a.cfg }
func (a *App) Cache() *history.Store     { return a.cache }
func (a *App) History() *history.Service { return a.history }
func (a *App) Presets() *kronos.Registry { return a.presets }
func (a *App) RunStore() store.Store     { return a.runs }

// Forecast 返回预测服务；Kronos 本体缺失时返回构建期记录的错误。
func (a *App) Forecast() (*forecast.Service, error) {
	if a.forecast == nil {
		if a.predictorErr != nil {
			return nil, a.predictorErr
		}
		return nil, fmt.Errorf("forecast service not initialized")
	}
	return a.forecast, nil
}

// Serve 启动 HTTP 服务并阻塞到 ctx 取消。
func (a *App) Serve(ctx context.Context) error {
	forecastSvc, err := a.Forecast()
	if err != nil {
		return err
	}
	var runRepo store.RunRepository
	if a.runs != nil {
		runRepo = a.runs.Runs()
	}
	a.presets.Watch()
	srv, err := klhttp.NewServer(klhttp.Config{
		Addr:     a.cfg.App.HTTPAddr,
		History:  a.history,
		Forecast: forecastSvc,
		Runs:     runRepo,
		Presets:  a.presets,
	})
	if err != nil {
		return err
	}
	logger.Infof("HTTP 服务监听 %s", a.cfg.App.HTTPAddr)
	return srv.Start(ctx)
}

// Close 释放缓存与存储句柄。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warnf("关闭行情缓存失败: %v", err)
		}
	}
	if a.runs != nil {
		if err := a.runs.Close(); err != nil {
			logger.Warnf("关闭运行记录存储失败: %v", err)
		}
	}
}
