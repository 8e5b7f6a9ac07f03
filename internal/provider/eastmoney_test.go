package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinecast/internal/market"
)

func TestEastmoneyFetchParsesKlines(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `{"data":{"code":"600519","klines":[
			"2024-01-02,1685.00,1695.00,1702.00,1680.00,25000,4230000000.00",
			"2024-01-03,1695.00,1688.00,1699.00,1683.50,18000,3050000000.00"
		]}}`)
	}))
	defer srv.Close()

	e := NewEastmoneySource(srv.URL, 5*time.Second)
	start, _ := market.ParseDate("2024-01-02")
	end, _ := market.ParseDate("2024-01-03")
	records, err := e.Fetch(context.Background(), "600519", market.CN, start, end)
	require.NoError(t, err)

	assert.Equal(t, "1.600519", gotQuery["secid"][0])
	assert.Equal(t, "101", gotQuery["klt"][0])
	assert.Equal(t, "1", gotQuery["fqt"][0])
	assert.Equal(t, "20240102", gotQuery["beg"][0])

	require.Len(t, records, 2)
	first := records[0]
	assert.Equal(t, "2024-01-02", first.Date)
	assert.InDelta(t, 1685.0, first.Open, 1e-9)
	assert.InDelta(t, 1695.0, first.Close, 1e-9)
	assert.InDelta(t, 1702.0, first.High, 1e-9)
	assert.InDelta(t, 1680.0, first.Low, 1e-9)
	// 成交额原生提供，不走估算
	assert.True(t, first.HasAmount)
	assert.InDelta(t, 4.23e9, first.Amount, 1e-3)
}

func TestEastmoneyFetchRejectsMalformedKlines(t *testing.T) {
	cases := []struct {
		name string
		line string
	}{
		{"非数值字段", "2024-01-02,abc,def,ghi,jkl,xyz,uvw"},
		{"字段不足", "2024-01-02,1685.00,1695.00"},
		{"数值中混入空串", "2024-01-02,1685.00,,1702.00,1680.00,25000,4230000000.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"data":{"code":"600519","klines":[%q]}}`, tc.line)
			}))
			defer srv.Close()

			e := NewEastmoneySource(srv.URL, 5*time.Second)
			start, _ := market.ParseDate("2024-01-02")
			records, err := e.Fetch(context.Background(), "600519", market.CN, start, start)
			// 坏行必须显式失败，禁止退化成全零 Bar 进缓存
			assert.ErrorIs(t, err, ErrMalformedRecord)
			assert.Nil(t, records)
		})
	}
}

func TestEastmoneyFetchSymbolNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":null}`)
	}))
	defer srv.Close()

	e := NewEastmoneySource(srv.URL, 5*time.Second)
	start, _ := market.ParseDate("2024-01-02")
	_, err := e.Fetch(context.Background(), "999999", market.CN, start, start)
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestEastmoneySecID(t *testing.T) {
	assert.Equal(t, "1.600519", eastmoneySecID("600519"))
	assert.Equal(t, "0.000001", eastmoneySecID("000001"))
	assert.Equal(t, "0.300750", eastmoneySecID("300750"))
	assert.Equal(t, "1.600519", eastmoneySecID("600519.SH"))
}
