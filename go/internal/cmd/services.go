package main

import (
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/selectcast/selectcast/go/internal/catalog"
	"github.com/selectcast/selectcast/go/internal/gateway"
	"github.com/selectcast/selectcast/go/internal/registry"
	"github.com/selectcast/selectcast/go/internal/relay"
	"github.com/selectcast/selectcast/go/internal/store"
)

// Services holds the wired application graph.
type Services struct {
	Registry *registry.Registry
	Store    *store.Store
	Gateway  *gateway.Service
	Relay    *relay.JetStreamPublisher
}

func setupServices(config *Config) (*Services, error) {
	// Wire up the dependency chain:
	// catalog + registry → store → gateway → broadcaster back onto store
	clock := clockwork.NewRealClock()

	cat := catalog.NewStaticStore(config.Catalog.Items)
	reg := registry.New(config.registryConfig(), clock)
	st := store.New(reg, cat, clock)

	gatewayService := gateway.NewService(gateway.DefaultConfig(), st)

	broadcaster := gatewayService.Dispatcher()

	var publisher *relay.JetStreamPublisher
	if config.Relay.Enabled {
		relayCfg := relay.DefaultJetStreamConfig()
		if config.Relay.URL != "" {
			relayCfg.URL = config.Relay.URL
		}
		if config.Relay.StreamName != "" {
			relayCfg.StreamName = config.Relay.StreamName
		}

		p, err := relay.NewJetStreamPublisher(relayCfg)
		if err != nil {
			return nil, err
		}
		publisher = p
		broadcaster = relay.Wrap(broadcaster, publisher)
		log.Info().
			Str("url", relayCfg.URL).
			Str("stream", relayCfg.StreamName).
			Msg("selection relay enabled")
	}

	st.SetBroadcaster(broadcaster)

	return &Services{
		Registry: reg,
		Store:    st,
		Gateway:  gatewayService,
		Relay:    publisher,
	}, nil
}

// Close releases external connections.
func (s *Services) Close() {
	if s.Relay != nil {
		if err := s.Relay.Close(); err != nil {
			log.Warn().Err(err).Msg("relay close failed")
		}
	}
}
