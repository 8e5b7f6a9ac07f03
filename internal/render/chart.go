package render

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"

	"klinecast/internal/market"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorForecastBull  = "#3b82f6"
	colorForecastBear  = "#fbbf24"
	colorEma           = "#a78bfa"

	chartWidthPx  = 1400
	chartHeightPx = 640
)

// Input 描述一张预测 K 线图：历史序列在前，预测序列紧随其后。
type Input struct {
	Symbol    string
	Market    market.Market
	History   []market.Bar
	Predicted []market.Bar
	Trend     string
}

// KlineHTML 渲染历史+预测的 K 线页面，预测部分用独立配色与图例区分。
func KlineHTML(input Input) ([]byte, error) {
	if input.Symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	if len(input.History) == 0 {
		return nil, fmt.Errorf("%s 没有可渲染的历史数据", input.Symbol)
	}

	all := make([]market.Bar, 0, len(input.History)+len(input.Predicted))
	all = append(all, input.History...)
	all = append(all, input.Predicted...)

	minPrice, maxPrice := priceBounds(all)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}

	init := opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", chartHeightPx),
		BackgroundColor: colorBackground,
	}
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s (%s) 日线与预测", strings.ToUpper(input.Symbol), input.Market),
			Subtitle:      subtitle(input),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)

	xAxis := buildXAxis(all)
	kline.SetXAxis(xAxis)
	kline.AddSeries("历史", klineSeries(all, 0, len(input.History)),
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}))
	if len(input.Predicted) > 0 {
		kline.AddSeries("预测", klineSeries(all, len(input.History), len(all)),
			charts.WithItemStyleOpts(opts.ItemStyle{
				Color:        colorForecastBull,
				Color0:       colorForecastBear,
				BorderColor:  colorForecastBull,
				BorderColor0: colorForecastBear,
			}))
	}

	if ema := buildEMALine(xAxis, input.History); ema != nil {
		kline.Overlap(ema)
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(kline)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func subtitle(input Input) string {
	s := fmt.Sprintf("历史 %d 天 | 预测 %d 天", len(input.History), len(input.Predicted))
	if input.Trend != "" {
		s += " | " + input.Trend
	}
	return s
}

func buildXAxis(bars []market.Bar) []string {
	x := make([]string, len(bars))
	for i, b := range bars {
		x[i] = b.DateKey()
	}
	return x
}

// klineSeries 在全长 x 轴上生成 [from,to) 段的 K 线数据，其余位置留空。
func klineSeries(all []market.Bar, from, to int) []opts.KlineData {
	data := make([]opts.KlineData, len(all))
	for i := from; i < to && i < len(all); i++ {
		b := all[i]
		data[i] = opts.KlineData{Value: [4]float64{b.Open, b.Close, b.Low, b.High}}
	}
	return data
}

func buildEMALine(xAxis []string, history []market.Bar) *charts.Line {
	const period = 20
	if len(history) <= period {
		return nil
	}
	closes := make([]float64, len(history))
	for i, b := range history {
		closes[i] = b.Close
	}
	ema := talib.Ema(closes, period)
	points := make([]opts.LineData, len(xAxis))
	for i := range xAxis {
		if i < len(ema) && i >= period-1 {
			points[i] = opts.LineData{Value: round(ema[i], 4)}
		}
	}
	line := charts.NewLine()
	line.SetXAxis(xAxis)
	line.AddSeries(fmt.Sprintf("EMA%d", period), points,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEma, Width: 1.2}),
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(false)}),
	)
	return line
}

func priceBounds(bars []market.Bar) (minVal, maxVal float64) {
	minVal = bars[0].Low
	maxVal = bars[0].High
	for _, b := range bars {
		if b.Low < minVal {
			minVal = b.Low
		}
		if b.High > maxVal {
			maxVal = b.High
		}
	}
	return minVal, maxVal
}

func round(v float64, digits int) float64 {
	scale := math.Pow10(digits)
	return math.Round(v*scale) / scale
}
