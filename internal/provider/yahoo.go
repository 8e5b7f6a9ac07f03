package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"klinecast/internal/market"
)

// YahooSource 基于 Yahoo Finance v8 chart API，覆盖 US/HK/crypto 三个市场。
type YahooSource struct {
	baseURL string
	client  *http.Client
}

func NewYahooSource(base string, timeout time.Duration) *YahooSource {
	if base == "" {
		base = "https://query1.finance.yahoo.com"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &YahooSource{
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
	}
}

func (y *YahooSource) Kind() Kind { return KindYahoo }

func (y *YahooSource) Fetch(ctx context.Context, symbol string, m market.Market, start, end time.Time) ([]Record, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	u, err := url.Parse(y.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = "/v8/finance/chart/" + yahooSymbol(symbol, m)
	q := u.Query()
	q.Set("period1", strconv.FormatInt(market.Day(start).Unix(), 10))
	// chart API 的 period2 为开区间，+1 天以包含 end 当日
	q.Set("period2", strconv.FormatInt(market.Day(end).AddDate(0, 0, 1).Unix(), 10))
	q.Set("interval", "1d")
	q.Set("events", "history")
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", "Mozilla/5.0 (compatible; klinecast/1.0)")
	resp, err := y.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: yahoo: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: yahoo 响应读取失败: %v", ErrUnavailable, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: yahoo 未收录 %s", ErrSymbolNotFound, symbol)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: yahoo 返回状态码 %d", ErrUnavailable, resp.StatusCode)
	}
	return parseYahooChart(body, symbol)
}

func parseYahooChart(body []byte, symbol string) ([]Record, error) {
	doc := gjson.ParseBytes(body)
	if errNode := doc.Get("chart.error"); errNode.Exists() && errNode.Type != gjson.Null {
		code := errNode.Get("code").String()
		if strings.EqualFold(code, "Not Found") {
			return nil, fmt.Errorf("%w: yahoo 未收录 %s", ErrSymbolNotFound, symbol)
		}
		return nil, fmt.Errorf("%w: yahoo 错误 %s: %s", ErrUnavailable, code, errNode.Get("description").String())
	}
	result := doc.Get("chart.result.0")
	if !result.Exists() {
		return nil, fmt.Errorf("%w: yahoo 无数据: %s", ErrSymbolNotFound, symbol)
	}
	timestamps := result.Get("timestamp").Array()
	quote := result.Get("indicators.quote.0")
	opens := quote.Get("open").Array()
	highs := quote.Get("high").Array()
	lows := quote.Get("low").Array()
	closes := quote.Get("close").Array()
	volumes := quote.Get("volume").Array()

	out := make([]Record, 0, len(timestamps))
	for i, ts := range timestamps {
		if i >= len(opens) || i >= len(highs) || i >= len(lows) || i >= len(closes) {
			break
		}
		// 休市日 chart API 返回 null 行，跳过
		if opens[i].Type == gjson.Null || highs[i].Type == gjson.Null ||
			lows[i].Type == gjson.Null || closes[i].Type == gjson.Null {
			continue
		}
		rec := Record{
			Timestamp: ts.Int(),
			Open:      opens[i].Float(),
			High:      highs[i].Float(),
			Low:       lows[i].Float(),
			Close:     closes[i].Float(),
		}
		if i < len(volumes) && volumes[i].Type != gjson.Null {
			rec.Volume = volumes[i].Float()
		}
		out = append(out, rec)
	}
	return out, nil
}

// yahooSymbol 按市场补全 Yahoo 的符号后缀。
func yahooSymbol(symbol string, m market.Market) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	switch m {
	case market.HK:
		if !strings.HasSuffix(s, ".HK") {
			s += ".HK"
		}
	case market.Crypto:
		if !strings.HasSuffix(s, "-USD") && !strings.HasSuffix(s, "-USDT") {
			s += "-USD"
		}
	}
	return s
}
