// Package engine builds audio engine factories from configuration.
package engine

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/retune/internal/domain/audio"
	"github.com/osa030/retune/internal/infra/beepengine"
	"github.com/osa030/retune/internal/infra/config"
	"github.com/osa030/retune/internal/infra/simengine"
)

// Engine types
const (
	TypeBeep = "beep"
	TypeSim  = "sim"
)

// NewFactoryFromConfig creates the engine factory selected by the configuration.
func NewFactoryFromConfig(cfg *config.Config) (audio.Factory, error) {
	ecfg := cfg.Engine
	zlog.Debug().Msgf("creating engine factory: type=%s settings=%+v", ecfg.Type, ecfg.Settings)

	var (
		factory audio.Factory
		err     error
	)
	switch ecfg.Type {
	case TypeBeep:
		factory, err = beepengine.NewFactory(ecfg.Settings)
	case TypeSim:
		factory, err = simengine.NewFactory(ecfg.Settings)
	default:
		return nil, errors.Newf("unsupported engine type: %s", ecfg.Type)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create engine factory (type %s)", ecfg.Type)
	}

	zlog.Info().Msgf("engine factory ready: type=%s", ecfg.Type)
	return factory, nil
}
