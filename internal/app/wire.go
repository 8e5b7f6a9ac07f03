//go:build wireinject

package app

import (
	"github.com/google/wire"

	klcfg "klinecast/internal/config"
)

func buildAppWithWire(cfg *klcfg.Config, opts []AppBuilderOption) (*App, error) {
	wire.Build(
		provideAppBuilder,
		wire.Bind(new(appBuilderDeps), new(*AppBuilder)),
		provideAppFromBuilder,
	)
	return nil, nil
}
