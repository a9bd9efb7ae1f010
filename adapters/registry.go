package adapters

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"price-tracker/internal/types"
)

// Factory builds an adapter for one platform
type Factory func(config *types.Config, logger logrus.FieldLogger) types.PlatformAdapter

var registry = map[types.Platform]Factory{
	types.PlatformJumia: func(config *types.Config, logger logrus.FieldLogger) types.PlatformAdapter {
		return NewJumiaAdapter(config, logger)
	},
	types.PlatformKilimall: func(config *types.Config, logger logrus.FieldLogger) types.PlatformAdapter {
		return NewKilimallAdapter(config, logger)
	},
	types.PlatformJiji: func(config *types.Config, logger logrus.FieldLogger) types.PlatformAdapter {
		return NewJijiAdapter(config, logger)
	},
}

// New creates the adapter registered for platform
func New(platform types.Platform, config *types.Config, logger logrus.FieldLogger) (types.PlatformAdapter, error) {
	factory, ok := registry[platform]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter found for %q", types.ErrUnknownPlatform, platform)
	}
	return factory(config, logger), nil
}

// NewSet creates one adapter per configured platform
func NewSet(config *types.Config, logger logrus.FieldLogger) (map[types.Platform]types.PlatformAdapter, error) {
	set := make(map[types.Platform]types.PlatformAdapter, len(config.Platforms))
	for _, platform := range config.Platforms {
		adapter, err := New(platform, config, logger)
		if err != nil {
			return nil, err
		}
		set[platform] = adapter
	}
	return set, nil
}
