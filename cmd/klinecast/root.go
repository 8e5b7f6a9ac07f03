package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	klcfg "klinecast/internal/config"
	"klinecast/internal/logger"
)

var (
	cfgPath string
	cfg     *klcfg.Config
	logFile *os.File

	rootCmd = &cobra.Command{
		Use:           "klinecast",
		Short:         "日线行情下载与 Kronos 走势预测",
		Long:          "klinecast 拉取美股/港股/A股/加密货币日线行情，本地缓存后交给 Kronos 模型预测未来走势。",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := klcfg.Load(cfgPath)
			if err != nil {
				return err
			}
			cfg = c
			if err := setupLogOutput(cfg.App.LogPath); err != nil {
				return err
			}
			logger.SetLevel(cfg.App.LogLevel)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logFile != nil {
				logFile.Close()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "配置文件路径（默认读 KLINECAST_CONFIG 或 configs/config.yaml）")
	rootCmd.AddCommand(downloadCmd, predictCmd, serveCmd)
}

func setupLogOutput(path string) error {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(trimmed, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	logFile = f
	logger.SetOutput(f)
	return nil
}
