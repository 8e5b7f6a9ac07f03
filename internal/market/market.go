package market

import (
	"fmt"
	"sort"
	"strings"
)

// Market 是受支持市场的封闭枚举。
type Market string

const (
	US     Market = "US"
	HK     Market = "HK"
	CN     Market = "CN"
	Crypto Market = "crypto"
)

var supportedMarkets = map[string]Market{
	"us":     US,
	"hk":     HK,
	"cn":     CN,
	"crypto": Crypto,
}

// ParseMarket 返回标准化市场；未知市场报错。
func ParseMarket(input string) (Market, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	m, ok := supportedMarkets[key]
	if !ok {
		return "", fmt.Errorf("不支持的市场: %s（可选 %s）", input, strings.Join(SupportedMarkets(), "/"))
	}
	return m, nil
}

// SupportedMarkets 返回所有市场 key（排序后）。
func SupportedMarkets() []string {
	keys := make([]string, 0, len(supportedMarkets))
	for _, m := range supportedMarkets {
		keys = append(keys, string(m))
	}
	sort.Strings(keys)
	return keys
}

func (m Market) String() string { return string(m) }

// Key 返回存储使用的小写键。
func (m Market) Key() string { return strings.ToLower(string(m)) }
