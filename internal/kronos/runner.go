package kronos

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"klinecast/internal/logger"
	"klinecast/internal/market"
)

//go:embed bridge.py
var bridgeScript string

// ResolveRepoPath 三段式定位 Kronos 源码树：显式配置路径、
// KRONOS_REPO_PATH 环境变量、约定目录（./kronos_repo、./Kronos）。
// 目录需要包含 model/ 子目录才算有效。
func ResolveRepoPath(explicit string, lookup EnvLookup) (string, error) {
	if lookup == nil {
		lookup = NoEnv
	}
	candidates := make([]string, 0, 4)
	if p := strings.TrimSpace(explicit); p != "" {
		candidates = append(candidates, p)
	}
	if p, ok := lookup(EnvRepoPath); ok && strings.TrimSpace(p) != "" {
		candidates = append(candidates, strings.TrimSpace(p))
	}
	cwd, err := os.Getwd()
	if err == nil {
		candidates = append(candidates, filepath.Join(cwd, "kronos_repo"), filepath.Join(cwd, "Kronos"))
	}
	for _, dir := range candidates {
		if info, err := os.Stat(filepath.Join(dir, "model")); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", fmt.Errorf("%w: 请 clone https://github.com/shiyu-coder/Kronos.git 并设置 %s", ErrKronosNotFound, EnvRepoPath)
}

// Runner 通过内嵌的 Python 桥脚本调用本地 Kronos 模型。
type Runner struct {
	repoPath string
	python   string
}

// NewRunner 构造推理 Runner。repoPath 为已解析的 Kronos 源码目录。
func NewRunner(repoPath, python string) *Runner {
	if python == "" {
		python = "python3"
	}
	return &Runner{repoPath: repoPath, python: python}
}

type bridgeRequest struct {
	ModelID     string      `json:"model_id"`
	TokenizerID string      `json:"tokenizer_id"`
	Device      string      `json:"device"`
	MaxContext  int         `json:"max_context"`
	Horizon     int         `json:"horizon"`
	Bars        []bridgeBar `json:"bars"`
}

type bridgeBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Amount float64 `json:"amount"`
}

// Predict 实现 Predictor。失败从不重试，错误原样上抛。
func (r *Runner) Predict(ctx context.Context, window []market.Bar, cfg EffectiveConfig, horizon int) ([]market.Bar, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon 必须 > 0", ErrInference)
	}
	if len(window) == 0 {
		return nil, fmt.Errorf("%w: 历史窗口为空", ErrInference)
	}

	req := bridgeRequest{
		ModelID:     cfg.ModelID,
		TokenizerID: cfg.TokenizerID,
		Device:      cfg.Device,
		MaxContext:  cfg.MaxContext,
		Horizon:     horizon,
		Bars:        make([]bridgeBar, 0, len(window)),
	}
	for _, b := range window {
		req.Bars = append(req.Bars, bridgeBar{
			Date:   b.DateKey(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
			Amount: b.Amount,
		})
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: 请求编码失败: %v", ErrInference, err)
	}

	cmd := exec.CommandContext(ctx, r.python, "-c", bridgeScript)
	cmd.Dir = r.repoPath
	cmd.Env = append(os.Environ(), "PYTHONPATH="+r.repoPath)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debugf("[kronos] 调用桥脚本 model=%s device=%s ctx=%d horizon=%d window=%d",
		cfg.ModelID, cfg.Device, cfg.MaxContext, horizon, len(window))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: 桥脚本退出异常: %v (%s)", ErrInference, err, firstLine(stderr.String()))
	}
	return parseBridgeResponse(stdout.Bytes(), horizon)
}

func parseBridgeResponse(body []byte, horizon int) ([]market.Bar, error) {
	doc := gjson.ParseBytes(body)
	switch doc.Get("status").String() {
	case "ok":
	case "error":
		msg := doc.Get("message").String()
		if doc.Get("code").String() == "device_unavailable" {
			return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, msg)
		}
		return nil, fmt.Errorf("%w: %s", ErrInference, msg)
	default:
		return nil, fmt.Errorf("%w: 桥脚本输出无法解析", ErrInference)
	}
	rows := doc.Get("bars").Array()
	if len(rows) != horizon {
		return nil, fmt.Errorf("%w: 预测条数 %d 与 horizon %d 不符", ErrInference, len(rows), horizon)
	}
	out := make([]market.Bar, 0, len(rows))
	for _, row := range rows {
		d, err := market.ParseDate(row.Get("date").String())
		if err != nil {
			return nil, fmt.Errorf("%w: 预测日期无效: %v", ErrInference, err)
		}
		out = append(out, market.Bar{
			Date:   d,
			Open:   row.Get("open").Float(),
			High:   row.Get("high").Float(),
			Low:    row.Get("low").Float(),
			Close:  row.Get("close").Float(),
			Volume: row.Get("volume").Float(),
			Amount: row.Get("amount").Float(),
		})
	}
	return out, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
