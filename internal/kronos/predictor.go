package kronos

import (
	"context"
	"errors"

	"klinecast/internal/market"
)

var (
	// ErrInference 表示外部模型推理失败（资源耗尽、模型文件缺失等），
	// 原样上抛，从不自动重试。
	ErrInference = errors.New("模型推理失败")
	// ErrDeviceUnavailable 表示请求的加速设备不存在。
	ErrDeviceUnavailable = errors.New("推理设备不可用")
	// ErrKronosNotFound 表示本地找不到 Kronos 源码树。
	ErrKronosNotFound = errors.New("未找到 Kronos 源码目录")
)

// Predictor 是外部预测模型的边界：输入有界历史窗口与最终配置，
// 输出 horizon 天的预测 Bar。实现可能很慢（秒级），取消由调用方负责。
type Predictor interface {
	Predict(ctx context.Context, window []market.Bar, cfg EffectiveConfig, horizon int) ([]market.Bar, error)
}

// Window 截取最近的 Bar 作为模型输入窗口，长度不超过 maxContext。
func Window(bars []market.Bar, maxContext int) []market.Bar {
	if maxContext <= 0 || len(bars) <= maxContext {
		return bars
	}
	return bars[len(bars)-maxContext:]
}
