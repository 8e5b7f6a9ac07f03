package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout 是日线数据统一使用的日期格式。
const DateLayout = "2006-01-02"

// Bar 表示单个交易日的标准化 OHLCV 记录。
// Amount 为成交额：数据源直接给出则原样保留，否则按 volume*close 估算。
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Amount float64   `json:"amount"`
}

// DateKey 返回 Bar 的日期键（UTC，YYYY-MM-DD）。
func (b Bar) DateKey() string {
	return b.Date.UTC().Format(DateLayout)
}

// Validate 校验 Bar 不变量：各字段非负，low ≤ open,close ≤ high。
func (b Bar) Validate() error {
	if b.Date.IsZero() {
		return fmt.Errorf("bar 缺少日期")
	}
	if b.Open < 0 || b.High < 0 || b.Low < 0 || b.Close < 0 {
		return fmt.Errorf("bar %s 存在负价格", b.DateKey())
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s 成交量为负", b.DateKey())
	}
	if b.Amount < 0 {
		return fmt.Errorf("bar %s 成交额为负", b.DateKey())
	}
	if b.Low > b.High {
		return fmt.Errorf("bar %s low(%v) > high(%v)", b.DateKey(), b.Low, b.High)
	}
	if b.Open < b.Low || b.Open > b.High {
		return fmt.Errorf("bar %s open(%v) 超出 [low,high]", b.DateKey(), b.Open)
	}
	if b.Close < b.Low || b.Close > b.High {
		return fmt.Errorf("bar %s close(%v) 超出 [low,high]", b.DateKey(), b.Close)
	}
	return nil
}

// DeriveAmount 按 volume*close 估算成交额。
func DeriveAmount(volume, close float64) float64 {
	v := decimal.NewFromFloat(volume)
	c := decimal.NewFromFloat(close)
	f, _ := v.Mul(c).Float64()
	return f
}

// Day 将任意时间归一化为 UTC 零点，作为日线键。
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate 解析 YYYY-MM-DD。
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("日期格式无效（期望 YYYY-MM-DD）: %q", s)
	}
	return t, nil
}
