package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"klinecast/internal/kronos"
	"klinecast/internal/logger"
	"klinecast/internal/market"
	"klinecast/internal/store"
	"klinecast/internal/store/model"
)

// HistoryProvider 是预测服务需要的历史数据能力。
type HistoryProvider interface {
	GetHistory(ctx context.Context, symbol string, m market.Market, start, end time.Time) ([]market.Bar, error)
}

// Request 描述一次预测请求。Config 必须是已解析的最终配置。
type Request struct {
	Symbol  string
	Market  market.Market
	Start   time.Time
	End     time.Time
	Horizon int
	Config  kronos.EffectiveConfig
}

// Result 是一次预测的结果：历史窗口与预测序列分开暴露，
// 下游展示据此区分真实数据与预测数据。
type Result struct {
	RunID     string       `json:"run_id"`
	Window    []market.Bar `json:"window"`
	Predicted []market.Bar `json:"predicted"`
	Trend     Trend        `json:"trend"`
}

// Trend 汇总预测区间的整体走向。
type Trend struct {
	Direction string  `json:"direction"` // up / down / flat
	ChangePct float64 `json:"change_pct"`
}

// TaggedBar 是对外输出的统一条目：历史与预测共用 Bar 形状，
// 由 Predicted 标记区分。
type TaggedBar struct {
	market.Bar
	Predicted bool `json:"predicted"`
}

// Tagged 把窗口与预测合并为打标序列（窗口在前）。
func (r Result) Tagged() []TaggedBar {
	out := make([]TaggedBar, 0, len(r.Window)+len(r.Predicted))
	for _, b := range r.Window {
		out = append(out, TaggedBar{Bar: b})
	}
	for _, b := range r.Predicted {
		out = append(out, TaggedBar{Bar: b, Predicted: true})
	}
	return out
}

// Service 编排一次预测：取历史、截窗口、调模型、记录运行。
type Service struct {
	history   HistoryProvider
	predictor kronos.Predictor
	runs      store.RunRepository
	now       func() time.Time
}

func NewService(history HistoryProvider, predictor kronos.Predictor, runs store.RunRepository) (*Service, error) {
	if history == nil {
		return nil, fmt.Errorf("history provider 不能为空")
	}
	if predictor == nil {
		return nil, fmt.Errorf("predictor 不能为空")
	}
	return &Service{history: history, predictor: predictor, runs: runs, now: time.Now}, nil
}

// Forecast 执行一次预测。模型错误（InferenceError/DeviceUnavailable）
// 原样上抛，不重试。
func (s *Service) Forecast(ctx context.Context, req Request) (Result, error) {
	if req.Horizon <= 0 {
		return Result{}, fmt.Errorf("horizon 必须 > 0")
	}
	bars, err := s.history.GetHistory(ctx, req.Symbol, req.Market, req.Start, req.End)
	if err != nil {
		return Result{}, err
	}
	window := kronos.Window(bars, req.Config.MaxContext)
	if len(window) == 0 {
		return Result{}, fmt.Errorf("历史窗口为空")
	}

	predicted, err := s.predictor.Predict(ctx, window, req.Config, req.Horizon)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		RunID:     uuid.NewString(),
		Window:    window,
		Predicted: predicted,
		Trend:     computeTrend(predicted),
	}
	if s.runs != nil {
		if err := s.saveRun(ctx, req, result); err != nil {
			// 运行日志失败不影响预测结果本身
			logger.Warnf("[forecast] 运行记录保存失败: %v", err)
		}
	}
	return result, nil
}

func (s *Service) saveRun(ctx context.Context, req Request, result Result) error {
	raw, err := json.Marshal(result.Predicted)
	if err != nil {
		return err
	}
	run := &model.PredictionRunModel{
		ID:            result.RunID,
		Symbol:        req.Symbol,
		Market:        req.Market.String(),
		ModelVariant:  string(req.Config.ModelVariant),
		ModelID:       req.Config.ModelID,
		TokenizerID:   req.Config.TokenizerID,
		MaxContext:    req.Config.MaxContext,
		Device:        req.Config.Device,
		Horizon:       req.Horizon,
		WindowSize:    len(result.Window),
		WindowFrom:    result.Window[0].DateKey(),
		WindowTo:      result.Window[len(result.Window)-1].DateKey(),
		Predictions:   datatypes.JSON(raw),
		CreatedAtUnix: s.now().UnixMilli(),
	}
	return s.runs.Save(ctx, run)
}

// computeTrend 用首尾预测收盘价计算整体涨跌幅（decimal 避免浮点漂移）。
func computeTrend(predicted []market.Bar) Trend {
	if len(predicted) == 0 {
		return Trend{Direction: "flat"}
	}
	first := decimal.NewFromFloat(predicted[0].Close)
	last := decimal.NewFromFloat(predicted[len(predicted)-1].Close)
	if first.IsZero() {
		return Trend{Direction: "flat"}
	}
	pct := last.Sub(first).Div(first).Mul(decimal.NewFromInt(100))
	f, _ := pct.Round(2).Float64()
	trend := Trend{ChangePct: f}
	switch {
	case pct.IsPositive():
		trend.Direction = "up"
	case pct.IsNegative():
		trend.Direction = "down"
	default:
		trend.Direction = "flat"
	}
	return trend
}
