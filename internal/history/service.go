package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"klinecast/internal/logger"
	"klinecast/internal/market"
	"klinecast/internal/provider"
)

// ErrDataUnavailable 表示请求区间内没有任何可用数据（缓存与上游均为空）。
var ErrDataUnavailable = errors.New("请求区间内无可用数据")

// ServiceConfig 配置历史数据服务。
type ServiceConfig struct {
	Store           *Store
	Registry        *provider.Registry
	RateLimitPerMin int
	FetchTimeout    time.Duration
}

// Service 是历史数据门面：缓存优先读取、按缺口增量拉取、合并回写。
type Service struct {
	store        *Store
	registry     *provider.Registry
	limiter      *rate.Limiter
	fetchTimeout time.Duration
	now          func() time.Time

	sf singleflight.Group
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("provider registry 不能为空")
	}
	perSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		perSec = 4
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Service{
		store:        cfg.Store,
		registry:     cfg.Registry,
		limiter:      rate.NewLimiter(perSec, 4),
		fetchTimeout: timeout,
		now:          time.Now,
	}, nil
}

// SetClock 注入时间源（测试用），与 Store 的时钟配合使用。
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetHistory 返回 [start,end] 区间内的日线序列。
// 上游无法补足的缺口（如上市前日期）不会重试，返回覆盖可以窄于请求；
// 仅当缓存与上游在请求区间内均无任何数据时返回 ErrDataUnavailable。
func (s *Service) GetHistory(ctx context.Context, symbol string, m market.Market, start, end time.Time) ([]market.Bar, error) {
	key := NewKey(symbol, m)
	req := Range{From: market.Day(start), To: market.Day(end)}
	if !req.Valid() {
		return nil, fmt.Errorf("日期区间无效: %s ~ %s", start.Format(market.DateLayout), end.Format(market.DateLayout))
	}

	entry, err := s.store.Manifest(ctx, key)
	if err != nil {
		return nil, err
	}
	gaps := computeGaps(entry, req, s.now())

	var fetchErr error
	for _, gap := range gaps {
		if err := s.fillGap(ctx, key, gap); err != nil {
			// 数据完整性问题与取消立即失败；网络类失败降级为已有缓存
			if errors.Is(err, provider.ErrMalformedRecord) || ctx.Err() != nil {
				return nil, err
			}
			logger.Warnf("[history] %s 缺口 [%s,%s] 拉取失败，回退缓存: %v",
				key, gap.From.Format(market.DateLayout), gap.To.Format(market.DateLayout), err)
			fetchErr = err
		}
	}

	_, bars, err := s.store.Read(ctx, key, req.From, req.To)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		if fetchErr != nil {
			if errors.Is(fetchErr, provider.ErrSymbolNotFound) {
				return nil, fetchErr
			}
			return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, fetchErr)
		}
		return nil, ErrDataUnavailable
	}
	return bars, nil
}

// Manifest 暴露缓存清单，供展示/调试。
func (s *Service) Manifest(ctx context.Context, symbol string, m market.Market) (Entry, error) {
	return s.store.Manifest(ctx, NewKey(symbol, m))
}

// fillGap 拉取单个缺口并合并入库。相同键同缺口的并发刷新通过
// singleflight 合流，底层合并再按键互斥。
func (s *Service) fillGap(ctx context.Context, key Key, gap Range) error {
	sfKey := key.String() + "|" + gap.From.Format(market.DateLayout) + "|" + gap.To.Format(market.DateLayout)
	_, err, _ := s.sf.Do(sfKey, func() (any, error) {
		return nil, s.fetchAndMerge(ctx, key, gap)
	})
	return err
}

func (s *Service) fetchAndMerge(ctx context.Context, key Key, gap Range) error {
	adapter, err := s.registry.ForMarket(key.Market)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	records, err := adapter.Fetch(fetchCtx, key.Symbol, key.Market, gap.From, gap.To)
	if err != nil {
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, provider.ErrSymbolNotFound) {
			return fmt.Errorf("%w: %s 拉取超时", provider.ErrUnavailable, adapter.Kind())
		}
		return err
	}
	// 取消时放弃半截结果，不做合并
	if err := ctx.Err(); err != nil {
		return err
	}
	bars, err := provider.Normalize(adapter.Kind(), records)
	if err != nil {
		return err
	}
	// 覆盖范围以本次成功拉取的请求区间为准（上限不超过今天），
	// 区间内休市/缺行不再重试
	covered := Range{From: gap.From, To: gap.To}
	if today := market.Day(s.now()); covered.To.After(today) {
		covered.To = today
	}
	if !covered.Valid() {
		return nil
	}
	if err := s.store.Merge(ctx, key, bars, covered); err != nil {
		return err
	}
	logger.Infof("[history] %s 合并 %d 条，覆盖 [%s,%s]",
		key, len(bars), covered.From.Format(market.DateLayout), covered.To.Format(market.DateLayout))
	return nil
}

// computeGaps 计算请求区间中未被缓存覆盖的子区间（至多两个：
// 缓存起点之前、缓存终点之后）。清单过期时连带刷新最后一个已覆盖日。
func computeGaps(entry Entry, req Range, now time.Time) []Range {
	today := market.Day(now)
	to := req.To
	if to.After(today) {
		to = today
	}
	if to.Before(req.From) {
		return nil
	}
	if !entry.Exists {
		return []Range{{From: req.From, To: to}}
	}
	var gaps []Range
	if req.From.Before(entry.CoveredFrom) {
		beforeTo := entry.CoveredFrom.AddDate(0, 0, -1)
		if beforeTo.After(to) {
			beforeTo = to
		}
		gaps = append(gaps, Range{From: req.From, To: beforeTo})
	}
	afterFrom := entry.CoveredTo.AddDate(0, 0, 1)
	if entry.Stale(now) {
		// 最后一个已覆盖日可能是过期的盘中数据，刷新时一并重拉
		afterFrom = entry.CoveredTo
	}
	if afterFrom.Before(req.From) {
		afterFrom = req.From
	}
	if !afterFrom.After(to) {
		gaps = append(gaps, Range{From: afterFrom, To: to})
	}
	return gaps
}
