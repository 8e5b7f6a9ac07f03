package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"klinecast/internal/forecast"
	"klinecast/internal/history"
	"klinecast/internal/kronos"
	"klinecast/internal/market"
	"klinecast/internal/provider"
	"klinecast/internal/render"
	"klinecast/internal/store"
)

// Server 提供查询历史与触发预测的 HTTP 接口。
type Server struct {
	addr     string
	history  *history.Service
	forecast *forecast.Service
	runs     store.RunRepository
	presets  *kronos.Registry
	router   *gin.Engine
}

type Config struct {
	Addr     string
	History  *history.Service
	Forecast *forecast.Service
	Runs     store.RunRepository
	Presets  *kronos.Registry
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.History == nil {
		return nil, errors.New("history service 不能为空")
	}
	if cfg.Forecast == nil {
		return nil, errors.New("forecast service 不能为空")
	}
	if cfg.Presets == nil {
		return nil, errors.New("preset registry 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8787"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:     cfg.Addr,
		history:  cfg.History,
		forecast: cfg.Forecast,
		runs:     cfg.Runs,
		presets:  cfg.Presets,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	api := s.router.Group("/api")
	api.GET("/history", s.handleHistory)
	api.POST("/predict", s.handlePredict)
	api.POST("/predict/chart", s.handlePredictChart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/presets", s.handlePresets)
}

// Handler 暴露路由供测试挂载。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleHistory(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 不能为空"})
		return
	}
	m, err := market.ParseMarket(c.DefaultQuery("market", string(market.US)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, end, err := parseDateRange(c.Query("start"), c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	bars, err := s.history.GetHistory(c.Request.Context(), symbol, m, start, end)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "market": m, "count": len(bars), "bars": bars})
}

type predictRequest struct {
	Symbol      string `json:"symbol" binding:"required"`
	Market      string `json:"market" binding:"required"`
	Start       string `json:"start" binding:"required"`
	End         string `json:"end" binding:"required"`
	Horizon     int    `json:"horizon"`
	Variant     string `json:"variant"`
	ModelID     string `json:"model_id"`
	TokenizerID string `json:"tokenizer_id"`
	MaxContext  int    `json:"max_context"`
	Device      string `json:"device"`
}

func (s *Server) runForecast(c *gin.Context) (forecast.Result, forecast.Request, bool) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return forecast.Result{}, forecast.Request{}, false
	}
	m, err := market.ParseMarket(req.Market)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return forecast.Result{}, forecast.Request{}, false
	}
	start, end, err := parseDateRange(req.Start, req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return forecast.Result{}, forecast.Request{}, false
	}
	if req.Horizon <= 0 {
		req.Horizon = 30
	}
	cfg, err := kronos.Resolve(kronos.Overrides{
		Variant:     req.Variant,
		ModelID:     req.ModelID,
		TokenizerID: req.TokenizerID,
		MaxContext:  req.MaxContext,
		Device:      req.Device,
	}, os.LookupEnv, s.presets.Table())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return forecast.Result{}, forecast.Request{}, false
	}

	fr := forecast.Request{
		Symbol:  req.Symbol,
		Market:  m,
		Start:   start,
		End:     end,
		Horizon: req.Horizon,
		Config:  cfg,
	}
	result, err := s.forecast.Forecast(c.Request.Context(), fr)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return forecast.Result{}, forecast.Request{}, false
	}
	return result, fr, true
}

func (s *Server) handlePredict(c *gin.Context) {
	result, req, ok := s.runForecast(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":  result.RunID,
		"symbol":  req.Symbol,
		"market":  req.Market,
		"horizon": req.Horizon,
		"trend":   result.Trend,
		"bars":    result.Tagged(),
	})
}

func (s *Server) handlePredictChart(c *gin.Context) {
	result, req, ok := s.runForecast(c)
	if !ok {
		return
	}
	html, err := render.KlineHTML(render.Input{
		Symbol:    req.Symbol,
		Market:    req.Market,
		History:   result.Window,
		Predicted: result.Predicted,
		Trend:     trendLabel(result.Trend),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (s *Server) handleRunList(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "运行记录未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	runs, err := s.runs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "运行记录未启用"})
		return
	}
	run, err := s.runs.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handlePresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"default": kronos.DefaultVariant, "variants": s.presets.Table()})
}

func parseDateRange(start, end string) (time.Time, time.Time, error) {
	if start == "" || end == "" {
		return time.Time{}, time.Time{}, errors.New("start/end 不能为空")
	}
	from, err := market.ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start 无效: %w", err)
	}
	to, err := market.ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end 无效: %w", err)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("end 不能早于 start")
	}
	return from, to, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, provider.ErrSymbolNotFound):
		return http.StatusNotFound
	case errors.Is(err, kronos.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrMalformedRecord):
		return http.StatusBadGateway
	case errors.Is(err, history.ErrDataUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, kronos.ErrDeviceUnavailable), errors.Is(err, kronos.ErrInference), errors.Is(err, kronos.ErrKronosNotFound):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func trendLabel(t forecast.Trend) string {
	arrow := "→"
	switch t.Direction {
	case "up":
		arrow = "↑"
	case "down":
		arrow = "↓"
	}
	return fmt.Sprintf("预测趋势 %s %.2f%%", arrow, t.ChangePct)
}
