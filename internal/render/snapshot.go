package render

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"klinecast/internal/logger"
)

var (
	headlessOnce sync.Once
	headlessErr  error
)

// EnsureHeadlessAvailable 探测本机是否有可用的 headless Chrome，结果缓存。
// PNG 快照属于可选能力，探测失败时上层应退回纯 HTML 输出。
func EnsureHeadlessAvailable() error {
	headlessOnce.Do(func() {
		ctx, cancel := chromedp.NewContext(context.Background())
		defer cancel()
		probeCtx, probeCancel := context.WithTimeout(ctx, 10*time.Second)
		defer probeCancel()
		if err := chromedp.Run(probeCtx); err != nil {
			headlessErr = fmt.Errorf("headless chrome 不可用: %w", err)
			logger.Warnf("跳过 PNG 快照: %v", headlessErr)
		}
	})
	return headlessErr
}

// SnapshotPNG 将渲染好的 HTML 页面截成 PNG。
func SnapshotPNG(ctx context.Context, html []byte) ([]byte, error) {
	if err := EnsureHeadlessAvailable(); err != nil {
		return nil, err
	}

	browserCtx, cancel := chromedp.NewContext(ctx)
	defer cancel()
	runCtx, runCancel := context.WithTimeout(browserCtx, 20*time.Second)
	defer runCancel()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)

	var png []byte
	err := chromedp.Run(runCtx,
		chromedp.EmulateViewport(chartWidthPx+80, chartHeightPx+160),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body"),
		chromedp.Sleep(1500*time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	)
	if err != nil {
		return nil, fmt.Errorf("截图失败: %w", err)
	}
	return png, nil
}
