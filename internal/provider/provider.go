package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"klinecast/internal/market"
)

// Kind 标识上游数据源家族。
type Kind string

const (
	KindYahoo     Kind = "yahoo"
	KindEastmoney Kind = "eastmoney"
)

var (
	// ErrUnavailable 表示上游网络/服务不可用（超时视同不可用）。
	ErrUnavailable = errors.New("上游数据源不可用")
	// ErrSymbolNotFound 表示上游明确报告标的不存在。
	ErrSymbolNotFound = errors.New("标的不存在")
	// ErrMalformedRecord 表示原始记录在归一化后仍违反 Bar 不变量。
	ErrMalformedRecord = errors.New("记录不合法")
)

// Record 是数据源原生的日线记录，字段语义随 Kind 而异，
// 只有 Normalize 负责消化这些差异。
type Record struct {
	// Timestamp 为 yahoo 家族的 Unix 秒；eastmoney 家族为 0。
	Timestamp int64
	// Date 为 eastmoney 家族的原生日期字符串（YYYY-MM-DD）。
	Date   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	// Amount 仅在 HasAmount 为 true 时有效（eastmoney 原生提供成交额）。
	Amount    float64
	HasAmount bool
}

// Adapter 统一各上游的历史日线拉取行为。实现必须无状态、可安全重试。
type Adapter interface {
	// Fetch 拉取 [start,end] 闭区间内的日线记录；市场休市或上市历史
	// 较短时允许少于请求跨度。
	Fetch(ctx context.Context, symbol string, m market.Market, start, end time.Time) ([]Record, error)
	Kind() Kind
}

// dispatch 是市场到数据源家族的固定映射，调用方不做任何字符串分支。
var dispatch = map[market.Market]Kind{
	market.US:     KindYahoo,
	market.HK:     KindYahoo,
	market.Crypto: KindYahoo,
	market.CN:     KindEastmoney,
}

// Registry 持有各家族的 Adapter 实例。
type Registry struct {
	adapters map[Kind]Adapter
}

// NewRegistry 按固定映射表组装注册中心。
func NewRegistry(yahoo, eastmoney Adapter) (*Registry, error) {
	if yahoo == nil || eastmoney == nil {
		return nil, fmt.Errorf("yahoo/eastmoney 适配器不能为空")
	}
	return &Registry{adapters: map[Kind]Adapter{
		KindYahoo:     yahoo,
		KindEastmoney: eastmoney,
	}}, nil
}

// ForMarket 返回市场对应的 Adapter。
func (r *Registry) ForMarket(m market.Market) (Adapter, error) {
	kind, ok := dispatch[m]
	if !ok {
		return nil, fmt.Errorf("不支持的市场: %s", m)
	}
	a, ok := r.adapters[kind]
	if !ok || a == nil {
		return nil, fmt.Errorf("数据源家族 %s 未注册", kind)
	}
	return a, nil
}

// KindForMarket 返回市场对应的数据源家族。
func KindForMarket(m market.Market) (Kind, bool) {
	k, ok := dispatch[m]
	return k, ok
}
