package forecast

import (
	talib "github.com/markcheno/go-talib"

	"klinecast/internal/market"
)

// IndicatorSummary 是历史窗口的技术指标速览，用于预测输出旁的参考展示。
type IndicatorSummary struct {
	EMA20 float64 `json:"ema20"`
	EMA60 float64 `json:"ema60"`
	RSI14 float64 `json:"rsi14"`
	Valid bool    `json:"valid"`
}

// Indicators 计算窗口收盘价的 EMA20/EMA60/RSI14；数据不足时 Valid 为 false。
func Indicators(bars []market.Bar) IndicatorSummary {
	const need = 61
	if len(bars) < need {
		return IndicatorSummary{}
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	ema20 := talib.Ema(closes, 20)
	ema60 := talib.Ema(closes, 60)
	rsi14 := talib.Rsi(closes, 14)
	return IndicatorSummary{
		EMA20: ema20[len(ema20)-1],
		EMA60: ema60[len(ema60)-1],
		RSI14: rsi14[len(rsi14)-1],
		Valid: true,
	}
}
