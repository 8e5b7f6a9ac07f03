package provider

import (
	"fmt"
	"sort"
	"time"

	"klinecast/internal/market"
)

// Normalize 将数据源原生记录映射为标准 Bar 序列。纯函数、无 I/O。
// 输出按日期严格升序且无重复；任何违反 Bar 不变量的记录都会以
// ErrMalformedRecord 失败，绝不静默丢弃。
func Normalize(kind Kind, records []Record) ([]market.Bar, error) {
	bars := make([]market.Bar, 0, len(records))
	for i, rec := range records {
		bar, err := normalizeOne(kind, rec)
		if err != nil {
			return nil, fmt.Errorf("%w: %s 第 %d 条: %v", ErrMalformedRecord, kind, i, err)
		}
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	// 同日取后者（数据源偶发重复行）
	dedup := bars[:0]
	for _, b := range bars {
		if n := len(dedup); n > 0 && dedup[n-1].Date.Equal(b.Date) {
			dedup[n-1] = b
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup, nil
}

func normalizeOne(kind Kind, rec Record) (market.Bar, error) {
	var date time.Time
	switch kind {
	case KindYahoo:
		if rec.Timestamp <= 0 {
			return market.Bar{}, fmt.Errorf("缺少时间戳")
		}
		date = market.Day(time.Unix(rec.Timestamp, 0))
	case KindEastmoney:
		d, err := market.ParseDate(rec.Date)
		if err != nil {
			return market.Bar{}, err
		}
		date = d
	default:
		return market.Bar{}, fmt.Errorf("未知数据源家族: %s", kind)
	}

	bar := market.Bar{
		Date:   date,
		Open:   rec.Open,
		High:   rec.High,
		Low:    rec.Low,
		Close:  rec.Close,
		Volume: rec.Volume,
	}
	if rec.HasAmount {
		bar.Amount = rec.Amount
	} else {
		bar.Amount = market.DeriveAmount(rec.Volume, rec.Close)
	}
	if err := bar.Validate(); err != nil {
		return market.Bar{}, err
	}
	return bar, nil
}
