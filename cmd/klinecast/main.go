package main

import (
	"errors"
	"fmt"
	"os"

	"klinecast/internal/kronos"
)

// 退出码：0 成功；1 一般错误；2 Kronos 模型本体不可用或推理设备不可用。
const (
	exitOK                = 0
	exitError             = 1
	exitKronosUnavailable = 2
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, kronos.ErrKronosNotFound) || errors.Is(err, kronos.ErrDeviceUnavailable) {
			os.Exit(exitKronosUnavailable)
		}
		os.Exit(exitError)
	}
	os.Exit(exitOK)
}
