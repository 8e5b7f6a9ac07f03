package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"klinecast/internal/app"
)

var (
	serveAddr string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务，提供历史查询与预测接口",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "监听地址（默认取配置 app.http_addr）")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.App.HTTPAddr = serveAddr
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}
