package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"klinecast/internal/app"
	"klinecast/internal/forecast"
	"klinecast/internal/kronos"
	"klinecast/internal/logger"
	"klinecast/internal/market"
	"klinecast/internal/render"
)

var (
	pdStart       string
	pdEnd         string
	pdDays        int
	pdVariant     string
	pdModelID     string
	pdTokenizerID string
	pdMaxContext  int
	pdDevice      string
	pdChartPath   string
	pdPNGPath     string

	predictCmd = &cobra.Command{
		Use:   "predict SYMBOL MARKET",
		Short: "基于缓存/拉取的历史日线，调用 Kronos 预测未来走势",
		Args:  cobra.ExactArgs(2),
		RunE:  runPredict,
	}
)

func init() {
	predictCmd.Flags().StringVar(&pdStart, "start-date", "", "历史窗口起始日期 YYYY-MM-DD（默认结束日期前两年）")
	predictCmd.Flags().StringVar(&pdEnd, "end-date", "", "历史窗口结束日期 YYYY-MM-DD（默认今天）")
	predictCmd.Flags().IntVar(&pdDays, "days", 0, "预测天数（默认取配置 kronos.horizon）")
	predictCmd.Flags().StringVar(&pdVariant, "model-variant", "", "模型变体：mini/small/base")
	predictCmd.Flags().StringVar(&pdModelID, "model-id", "", "覆盖模型 HuggingFace ID")
	predictCmd.Flags().StringVar(&pdTokenizerID, "tokenizer-id", "", "覆盖分词器 HuggingFace ID")
	predictCmd.Flags().IntVar(&pdMaxContext, "max-context", 0, "覆盖最大上下文长度")
	predictCmd.Flags().StringVar(&pdDevice, "device", "", "推理设备：auto/cpu/cuda")
	predictCmd.Flags().StringVar(&pdChartPath, "chart", "", "输出预测 K 线图 HTML 到该路径（可选）")
	predictCmd.Flags().StringVar(&pdPNGPath, "png", "", "输出预测 K 线图 PNG 到该路径（可选，需要 headless Chrome）")
}

func runPredict(cmd *cobra.Command, args []string) error {
	symbol := args[0]
	m, err := market.ParseMarket(args[1])
	if err != nil {
		return err
	}
	start, end, err := predictWindow(pdStart, pdEnd)
	if err != nil {
		return err
	}
	horizon := pdDays
	if horizon <= 0 {
		horizon = cfg.Kronos.Horizon
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Overrides 只承载用户显式传入的 flag；配置文件的缺省值通过
	// envWithConfigFallback 注入，排在真实环境变量之后。
	effective, err := kronos.Resolve(kronos.Overrides{
		Variant:     pdVariant,
		ModelID:     pdModelID,
		TokenizerID: pdTokenizerID,
		MaxContext:  pdMaxContext,
		Device:      pdDevice,
	}, envWithConfigFallback(cfg.Kronos.Variant, cfg.Kronos.Device), a.Presets().Table())
	if err != nil {
		return err
	}

	svc, err := a.Forecast()
	if err != nil {
		return err
	}
	result, err := svc.Forecast(cmd.Context(), forecast.Request{
		Symbol:  symbol,
		Market:  m,
		Start:   start,
		End:     end,
		Horizon: horizon,
		Config:  effective,
	})
	if err != nil {
		return err
	}

	printForecast(result, effective)

	if pdChartPath != "" || pdPNGPath != "" {
		return writeChart(cmd, symbol, m, result)
	}
	return nil
}

// predictWindow 补全省略的日期：结束日期默认今天，起始日期默认结束日期前两年。
func predictWindow(startRaw, endRaw string) (time.Time, time.Time, error) {
	end := market.Day(time.Now().UTC())
	if endRaw != "" {
		parsed, err := market.ParseDate(endRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("end-date 无效: %w", err)
		}
		end = parsed
	}
	start := end.AddDate(-2, 0, 0)
	if startRaw != "" {
		parsed, err := market.ParseDate(startRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("start-date 无效: %w", err)
		}
		start = parsed
	}
	return start, end, nil
}

// envWithConfigFallback 按 环境变量 > 配置文件 的次序提供 variant/device，
// 其余键只查环境变量。
func envWithConfigFallback(variant, device string) kronos.EnvLookup {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		switch key {
		case kronos.EnvVariant:
			if variant != "" {
				return variant, true
			}
		case kronos.EnvDevice:
			if device != "" {
				return device, true
			}
		}
		return "", false
	}
}

func printForecast(result forecast.Result, effective kronos.EffectiveConfig) {
	fmt.Printf("模型: %s (variant=%s, device=%s, max_context=%d)\n",
		effective.ModelID, effective.ModelVariant, effective.Device, effective.MaxContext)
	fmt.Printf("历史窗口: %s ~ %s（%d 根）\n",
		result.Window[0].DateKey(), result.Window[len(result.Window)-1].DateKey(), len(result.Window))
	fmt.Printf("运行 ID: %s\n\n", result.RunID)

	fmt.Println("日期         开盘      最高      最低      收盘      成交量")
	for _, b := range result.Predicted {
		fmt.Printf("%s  %8.2f  %8.2f  %8.2f  %8.2f  %12.0f\n",
			b.DateKey(), b.Open, b.High, b.Low, b.Close, b.Volume)
	}

	arrow := "→"
	switch result.Trend.Direction {
	case "up":
		arrow = "↑"
	case "down":
		arrow = "↓"
	}
	fmt.Printf("\n预测趋势: %s %.2f%%\n", arrow, result.Trend.ChangePct)

	if ind := forecast.Indicators(result.Window); ind.Valid {
		fmt.Printf("窗口末端指标: EMA20=%.2f EMA60=%.2f RSI14=%.2f\n", ind.EMA20, ind.EMA60, ind.RSI14)
	}
}

func writeChart(cmd *cobra.Command, symbol string, m market.Market, result forecast.Result) error {
	html, err := render.KlineHTML(render.Input{
		Symbol:    symbol,
		Market:    m,
		History:   result.Window,
		Predicted: result.Predicted,
		Trend:     fmt.Sprintf("%s %.2f%%", result.Trend.Direction, result.Trend.ChangePct),
	})
	if err != nil {
		return err
	}
	if pdChartPath != "" {
		if err := os.MkdirAll(filepath.Dir(pdChartPath), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(pdChartPath, html, 0o644); err != nil {
			return err
		}
		logger.Infof("✓ 图表已写入 %s", pdChartPath)
	}
	if pdPNGPath != "" {
		png, err := render.SnapshotPNG(cmd.Context(), html)
		if err != nil {
			logger.Warnf("PNG 快照失败，仅保留 HTML: %v", err)
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(pdPNGPath), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(pdPNGPath, png, 0o644); err != nil {
			return err
		}
		logger.Infof("✓ PNG 快照已写入 %s", pdPNGPath)
	}
	return nil
}
