package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinecast/internal/market"
	"klinecast/internal/provider"
)

type fakeAdapter struct {
	kind    provider.Kind
	fetchFn func(symbol string, m market.Market, start, end time.Time) ([]provider.Record, error)

	mu    sync.Mutex
	calls []Range
}

func (f *fakeAdapter) Kind() provider.Kind { return f.kind }

func (f *fakeAdapter) Fetch(ctx context.Context, symbol string, m market.Market, start, end time.Time) ([]provider.Record, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Range{From: start, To: end})
	f.mu.Unlock()
	if f.fetchFn == nil {
		return nil, nil
	}
	return f.fetchFn(symbol, m, start, end)
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// recordsFor 生成 [start,end] 区间内每天一条的合法记录（yahoo 家族时间戳）。
func recordsFor(start, end time.Time) []provider.Record {
	var out []provider.Record
	for d := market.Day(start); !d.After(market.Day(end)); d = d.AddDate(0, 0, 1) {
		out = append(out, provider.Record{
			Timestamp: d.Unix(), Open: 10, High: 12, Low: 9, Close: 11, Volume: 100,
		})
	}
	return out
}

func newTestService(t *testing.T, yahoo *fakeAdapter, now time.Time) (*Service, *Store) {
	t.Helper()
	store := newTestStore(t)
	store.SetClock(func() time.Time { return now })
	if yahoo.kind == "" {
		yahoo.kind = provider.KindYahoo
	}
	east := &fakeAdapter{kind: provider.KindEastmoney}
	reg, err := provider.NewRegistry(yahoo, east)
	require.NoError(t, err)
	svc, err := NewService(ServiceConfig{
		Store:           store,
		Registry:        reg,
		RateLimitPerMin: 6000,
		FetchTimeout:    5 * time.Second,
	})
	require.NoError(t, err)
	svc.SetClock(func() time.Time { return now })
	return svc, store
}

func TestGetHistoryColdCacheFetchesWholeRange(t *testing.T) {
	now := day(t, "2024-01-15").Add(18 * time.Hour)
	yahoo := &fakeAdapter{
		fetchFn: func(_ string, _ market.Market, start, end time.Time) ([]provider.Record, error) {
			return recordsFor(start, end), nil
		},
	}
	svc, _ := newTestService(t, yahoo, now)

	bars, err := svc.GetHistory(context.Background(), "AAPL", market.US,
		day(t, "2024-01-02"), day(t, "2024-01-05"))
	require.NoError(t, err)
	assert.Len(t, bars, 4)
	assert.Equal(t, 1, yahoo.callCount())
}

func TestGetHistoryCacheHitNoFetch(t *testing.T) {
	now := day(t, "2024-01-15").Add(18 * time.Hour)
	yahoo := &fakeAdapter{
		fetchFn: func(_ string, _ market.Market, start, end time.Time) ([]provider.Record, error) {
			return recordsFor(start, end), nil
		},
	}
	svc, _ := newTestService(t, yahoo, now)
	ctx := context.Background()

	_, err := svc.GetHistory(ctx, "AAPL", market.US, day(t, "2024-01-02"), day(t, "2024-01-10"))
	require.NoError(t, err)
	require.Equal(t, 1, yahoo.callCount())

	// 完全命中：同日内重复请求不再触发拉取
	bars, err := svc.GetHistory(ctx, "AAPL", market.US, day(t, "2024-01-03"), day(t, "2024-01-08"))
	require.NoError(t, err)
	assert.Len(t, bars, 6)
	assert.Equal(t, 1, yahoo.callCount())
}

func TestGetHistoryExtendFetchesOnlyGap(t *testing.T) {
	now := day(t, "2024-01-15").Add(18 * time.Hour)
	yahoo := &fakeAdapter{
		fetchFn: func(_ string, _ market.Market, start, end time.Time) ([]provider.Record, error) {
			return recordsFor(start, end), nil
		},
	}
	svc, _ := newTestService(t, yahoo, now)
	ctx := context.Background()

	_, err := svc.GetHistory(ctx, "AAPL", market.US, day(t, "2024-01-01"), day(t, "2024-01-10"))
	require.NoError(t, err)
	require.Equal(t, 1, yahoo.callCount())

	bars, err := svc.GetHistory(ctx, "AAPL", market.US, day(t, "2024-01-01"), day(t, "2024-01-15"))
	require.NoError(t, err)
	assert.Len(t, bars, 15)
	// 只补缺口 [01-11, 01-15]
	require.Equal(t, 2, yahoo.callCount())
	gap := yahoo.calls[1]
	assert.Equal(t, day(t, "2024-01-11"), gap.From)
	assert.Equal(t, day(t, "2024-01-15"), gap.To)
}

func TestGetHistoryDegradesToCacheOnUpstreamFailure(t *testing.T) {
	now := day(t, "2024-01-15").Add(18 * time.Hour)
	failing := false
	yahoo := &fakeAdapter{
		fetchFn: func(_ string, _ market.Market, start, end time.Time) ([]provider.Record, error) {
			if failing {
				return nil, fmt.Errorf("%w: 模拟断网", provider.ErrUnavailable)
			}
			return recordsFor(start, end), nil
		},
	}
	svc, _ := newTestService(t, yahoo, now)
	ctx := context.Background()

	_, err := svc.GetHistory(ctx, "AAPL", market.US, day(t, "2024-01-02"), day(t, "2024-01-05"))
	require.NoError(t, err)

	// 上游失败但缓存有部分数据：降级返回缓存
	failing = true
	bars, err := svc.GetHistory(ctx, "AAPL", market.US, day(t, "2024-01-02"), day(t, "2024-01-08"))
	require.NoError(t, err)
	assert.Len(t, bars, 4)
}

func TestGetHistoryNoOverlapFailureIsDataUnavailable(t *testing.T) {
	now := day(t, "2024-01-30").Add(18 * time.Hour)
	yahoo := &fakeAdapter{
		fetchFn: func(_ string, _ market.Market, _, _ time.Time) ([]provider.Record, error) {
			return nil, fmt.Errorf("%w: 模拟断网", provider.ErrUnavailable)
		},
	}
	svc, _ := newTestService(t, yahoo, now)

	_, err := svc.GetHistory(context.Background(), "AAPL", market.US,
		day(t, "2024-01-20"), day(t, "2024-01-25"))
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestGetHistorySymbolNotFoundSurfaces(t *testing.T) {
	now := day(t, "2024-01-15").Add(18 * time.Hour)
	yahoo := &fakeAdapter{
		fetchFn: func(symbol string, _ market.Market, _, _ time.Time) ([]provider.Record, error) {
			return nil, fmt.Errorf("%w: %s", provider.ErrSymbolNotFound, symbol)
		},
	}
	svc, _ := newTestService(t, yahoo, now)

	_, err := svc.GetHistory(context.Background(), "NOPE", market.US,
		day(t, "2024-01-02"), day(t, "2024-01-05"))
	assert.ErrorIs(t, err, provider.ErrSymbolNotFound)
}

func TestGetHistoryMalformedRecordFailsFast(t *testing.T) {
	now := day(t, "2024-01-15").Add(18 * time.Hour)
	yahoo := &fakeAdapter{
		fetchFn: func(_ string, _ market.Market, start, _ time.Time) ([]provider.Record, error) {
			return []provider.Record{
				{Timestamp: market.Day(start).Unix(), Open: 10, High: 8, Low: 9, Close: 10, Volume: 1},
			}, nil
		},
	}
	svc, _ := newTestService(t, yahoo, now)

	_, err := svc.GetHistory(context.Background(), "AAPL", market.US,
		day(t, "2024-01-02"), day(t, "2024-01-05"))
	assert.ErrorIs(t, err, provider.ErrMalformedRecord)
}

func TestGetHistoryStaleRefreshesTail(t *testing.T) {
	fetchedAt := day(t, "2024-01-10").Add(18 * time.Hour)
	yahoo := &fakeAdapter{
		fetchFn: func(_ string, _ market.Market, start, end time.Time) ([]provider.Record, error) {
			return recordsFor(start, end), nil
		},
	}
	svc, store := newTestService(t, yahoo, fetchedAt)
	ctx := context.Background()

	_, err := svc.GetHistory(ctx, "AAPL", market.US, day(t, "2024-01-02"), day(t, "2024-01-10"))
	require.NoError(t, err)
	require.Equal(t, 1, yahoo.callCount())

	// 次日访问同一区间：清单过期，最后覆盖日起重拉
	later := day(t, "2024-01-11").Add(9 * time.Hour)
	svc.SetClock(func() time.Time { return later })
	store.SetClock(func() time.Time { return later })

	_, err = svc.GetHistory(ctx, "AAPL", market.US, day(t, "2024-01-02"), day(t, "2024-01-10"))
	require.NoError(t, err)
	require.Equal(t, 2, yahoo.callCount())
	assert.Equal(t, day(t, "2024-01-10"), yahoo.calls[1].From)
	assert.Equal(t, day(t, "2024-01-10"), yahoo.calls[1].To)
}

func TestComputeGapsClampsFutureDates(t *testing.T) {
	now := day(t, "2024-01-10").Add(12 * time.Hour)
	entry := Entry{}
	gaps := computeGaps(entry, Range{From: day(t, "2024-01-05"), To: day(t, "2024-02-01")}, now)
	require.Len(t, gaps, 1)
	assert.Equal(t, day(t, "2024-01-10"), gaps[0].To)

	// 区间完全在未来：没有可拉取的缺口
	gaps = computeGaps(entry, Range{From: day(t, "2024-02-01"), To: day(t, "2024-02-10")}, now)
	assert.Empty(t, gaps)
}
