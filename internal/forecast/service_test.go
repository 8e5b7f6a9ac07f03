package forecast

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinecast/internal/kronos"
	"klinecast/internal/market"
	"klinecast/internal/store/model"
)

type fakeHistory struct {
	bars []market.Bar
	err  error
}

func (f *fakeHistory) GetHistory(ctx context.Context, symbol string, m market.Market, start, end time.Time) ([]market.Bar, error) {
	return f.bars, f.err
}

type fakePredictor struct {
	out []market.Bar
	err error

	gotWindow  []market.Bar
	gotHorizon int
	gotConfig  kronos.EffectiveConfig
}

func (f *fakePredictor) Predict(ctx context.Context, window []market.Bar, cfg kronos.EffectiveConfig, horizon int) ([]market.Bar, error) {
	f.gotWindow = window
	f.gotConfig = cfg
	f.gotHorizon = horizon
	return f.out, f.err
}

type fakeRunRepo struct {
	mu   sync.Mutex
	runs []*model.PredictionRunModel
	err  error
}

func (f *fakeRunRepo) Save(ctx context.Context, run *model.PredictionRunModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeRunRepo) FindByID(ctx context.Context, id string) (*model.PredictionRunModel, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeRunRepo) ListRecent(ctx context.Context, limit int) ([]model.PredictionRunModel, error) {
	return nil, nil
}

func histBars(t *testing.T, n int, close0, step float64) []market.Bar {
	t.Helper()
	start, err := market.ParseDate("2024-01-01")
	require.NoError(t, err)
	bars := make([]market.Bar, 0, n)
	for i := 0; i < n; i++ {
		c := close0 + step*float64(i)
		bars = append(bars, market.Bar{
			Date: start.AddDate(0, 0, i),
			Open: c - 0.5, High: c + 1, Low: c - 1, Close: c,
			Volume: 100, Amount: c * 100,
		})
	}
	return bars
}

func testConfig() kronos.EffectiveConfig {
	return kronos.EffectiveConfig{
		ModelVariant: "mini",
		ModelID:      "NeoQuasar/Kronos-mini",
		TokenizerID:  "NeoQuasar/Kronos-Tokenizer-2k",
		MaxContext:   64,
		Device:       "cpu",
	}
}

func TestForecastTruncatesWindowToMaxContext(t *testing.T) {
	history := &fakeHistory{bars: histBars(t, 100, 10, 0.1)}
	predicted := histBars(t, 5, 20, 0.2)
	pred := &fakePredictor{out: predicted}
	svc, err := NewService(history, pred, nil)
	require.NoError(t, err)

	result, err := svc.Forecast(context.Background(), Request{
		Symbol: "AAPL", Market: market.US, Horizon: 5, Config: testConfig(),
	})
	require.NoError(t, err)

	// 窗口尾部截断到 max_context
	assert.Len(t, pred.gotWindow, 64)
	assert.Equal(t, history.bars[len(history.bars)-1].DateKey(), pred.gotWindow[63].DateKey())
	assert.Equal(t, 5, pred.gotHorizon)
	assert.NotEmpty(t, result.RunID)
	assert.Len(t, result.Window, 64)
	assert.Len(t, result.Predicted, 5)
}

func TestForecastTrendDirection(t *testing.T) {
	history := &fakeHistory{bars: histBars(t, 20, 10, 0)}
	svc, err := NewService(history, &fakePredictor{out: histBars(t, 4, 100, 5)}, nil)
	require.NoError(t, err)

	result, err := svc.Forecast(context.Background(), Request{
		Symbol: "AAPL", Market: market.US, Horizon: 4, Config: testConfig(),
	})
	require.NoError(t, err)
	assert.Equal(t, "up", result.Trend.Direction)
	// 100 → 115
	assert.InDelta(t, 15.0, result.Trend.ChangePct, 1e-9)

	svcDown, err := NewService(history, &fakePredictor{out: histBars(t, 4, 100, -5)}, nil)
	require.NoError(t, err)
	result, err = svcDown.Forecast(context.Background(), Request{
		Symbol: "AAPL", Market: market.US, Horizon: 4, Config: testConfig(),
	})
	require.NoError(t, err)
	assert.Equal(t, "down", result.Trend.Direction)
}

func TestForecastPersistsRun(t *testing.T) {
	history := &fakeHistory{bars: histBars(t, 30, 10, 0.1)}
	repo := &fakeRunRepo{}
	svc, err := NewService(history, &fakePredictor{out: histBars(t, 3, 12, 0.1)}, repo)
	require.NoError(t, err)

	result, err := svc.Forecast(context.Background(), Request{
		Symbol: "0700", Market: market.HK, Horizon: 3, Config: testConfig(),
	})
	require.NoError(t, err)

	require.Len(t, repo.runs, 1)
	run := repo.runs[0]
	assert.Equal(t, result.RunID, run.ID)
	assert.Equal(t, "0700", run.Symbol)
	assert.Equal(t, "HK", run.Market)
	assert.Equal(t, "mini", run.ModelVariant)
	assert.Equal(t, 3, run.Horizon)
	assert.Equal(t, 30, run.WindowSize)
	assert.NotEmpty(t, run.Predictions)
}

func TestForecastRunLogFailureIsNonFatal(t *testing.T) {
	history := &fakeHistory{bars: histBars(t, 30, 10, 0.1)}
	repo := &fakeRunRepo{err: fmt.Errorf("磁盘满")}
	svc, err := NewService(history, &fakePredictor{out: histBars(t, 3, 12, 0.1)}, repo)
	require.NoError(t, err)

	_, err = svc.Forecast(context.Background(), Request{
		Symbol: "AAPL", Market: market.US, Horizon: 3, Config: testConfig(),
	})
	assert.NoError(t, err)
}

func TestForecastPropagatesPredictorError(t *testing.T) {
	history := &fakeHistory{bars: histBars(t, 30, 10, 0.1)}
	svc, err := NewService(history, &fakePredictor{err: kronos.ErrDeviceUnavailable}, nil)
	require.NoError(t, err)

	_, err = svc.Forecast(context.Background(), Request{
		Symbol: "AAPL", Market: market.US, Horizon: 3, Config: testConfig(),
	})
	assert.ErrorIs(t, err, kronos.ErrDeviceUnavailable)
}

func TestTaggedMarksPredictions(t *testing.T) {
	r := Result{
		Window:    histBars(t, 2, 10, 0),
		Predicted: histBars(t, 2, 11, 0),
	}
	tagged := r.Tagged()
	require.Len(t, tagged, 4)
	assert.False(t, tagged[0].Predicted)
	assert.False(t, tagged[1].Predicted)
	assert.True(t, tagged[2].Predicted)
	assert.True(t, tagged[3].Predicted)
}

func TestIndicatorsNeedEnoughBars(t *testing.T) {
	short := Indicators(histBars(t, 30, 10, 0.1))
	assert.False(t, short.Valid)

	full := Indicators(histBars(t, 80, 10, 0.1))
	require.True(t, full.Valid)
	assert.Greater(t, full.EMA20, full.EMA60)
	assert.Greater(t, full.RSI14, 50.0)
}
