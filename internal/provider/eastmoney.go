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

// EastmoneySource 基于东方财富 push2his 日 K 接口，覆盖 CN A 股（前复权）。
type EastmoneySource struct {
	baseURL string
	client  *http.Client
}

func NewEastmoneySource(base string, timeout time.Duration) *EastmoneySource {
	if base == "" {
		base = "https://push2his.eastmoney.com"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &EastmoneySource{
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *EastmoneySource) Kind() Kind { return KindEastmoney }

func (e *EastmoneySource) Fetch(ctx context.Context, symbol string, m market.Market, start, end time.Time) ([]Record, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	u, err := url.Parse(e.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = "/api/qt/stock/kline/get"
	q := u.Query()
	q.Set("secid", eastmoneySecID(symbol))
	q.Set("fields1", "f1,f2,f3")
	// f51=日期 f52=开 f53=收 f54=高 f55=低 f56=量 f57=额
	q.Set("fields2", "f51,f52,f53,f54,f55,f56,f57")
	q.Set("klt", "101") // 日线
	q.Set("fqt", "1")   // 前复权，对齐 akshare 的 adjust="qfq"
	q.Set("beg", market.Day(start).Format("20060102"))
	q.Set("end", market.Day(end).Format("20060102"))
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: eastmoney: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: eastmoney 响应读取失败: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: eastmoney 返回状态码 %d", ErrUnavailable, resp.StatusCode)
	}
	return parseEastmoneyKlines(body, symbol)
}

func parseEastmoneyKlines(body []byte, symbol string) ([]Record, error) {
	doc := gjson.ParseBytes(body)
	data := doc.Get("data")
	if !data.Exists() || data.Type == gjson.Null {
		return nil, fmt.Errorf("%w: eastmoney 未收录 %s", ErrSymbolNotFound, symbol)
	}
	klines := data.Get("klines").Array()
	out := make([]Record, 0, len(klines))
	for _, line := range klines {
		raw := line.String()
		fields := strings.Split(raw, ",")
		if len(fields) < 7 {
			return nil, fmt.Errorf("%w: eastmoney kline 字段不足: %q", ErrMalformedRecord, raw)
		}
		// f52..f57 依次为 开/收/高/低/量/额，任何一个解析失败都整体拒绝，绝不补零
		var nums [6]float64
		for i := range nums {
			f, err := strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: eastmoney kline 数值无效: %q", ErrMalformedRecord, raw)
			}
			nums[i] = f
		}
		out = append(out, Record{
			Date:      fields[0],
			Open:      nums[0],
			Close:     nums[1],
			High:      nums[2],
			Low:       nums[3],
			Volume:    nums[4],
			Amount:    nums[5],
			HasAmount: true,
		})
	}
	return out, nil
}

// eastmoneySecID 组装 secid：沪市前缀 1，深市前缀 0。
func eastmoneySecID(symbol string) string {
	code := strings.TrimSpace(symbol)
	if idx := strings.IndexByte(code, '.'); idx >= 0 {
		code = code[:idx]
	}
	if strings.HasPrefix(code, "6") || strings.HasPrefix(code, "9") {
		return "1." + code
	}
	return "0." + code
}
