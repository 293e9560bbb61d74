package jetstream

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/ssuji15/trainpool/internal/config"
	"github.com/ssuji15/trainpool/internal/service/logger"
)

var (
	nc        *nats.Conn
	once      sync.Once
	initError error
)

func NewJetStreamClient() (*nats.Conn, error) {
	once.Do(func() {
		cfg, err := config.GetNatsConfig()
		if err != nil {
			initError = err
			return
		}
		nc, err = nats.Connect(cfg.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(1*time.Second),
			nats.Name("trainpool"),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
			}),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				logger.Log.Error().Err(err).Msg("nats disconnected")
			}),
			nats.ClosedHandler(func(nc *nats.Conn) {
				logger.Log.Info().Msg("nats connection closed")
			}),
		)
		if err != nil {
			initError = err
			return
		}
	})
	return nc, initError
}

func ResetJetStreamClient() {
	nc = nil
	once = sync.Once{}
	initError = nil
}
