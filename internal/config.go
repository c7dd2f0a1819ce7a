package internal

import (
	"chat-relay/errors"
	"fmt"
	"time"
)

const (
	StoreBadger = "badger"
	StoreMongo  = "mongo"
)

type Config struct {
	Host        string `env:"HOST,default=0.0.0.0"`
	Port        int    `env:"PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=INFO"`
	FrontendURL string `env:"FRONTEND_URL"`

	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`

	StoreDriver    string `env:"STORE_DRIVER,default=badger"`
	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/badger"`
	MongoURI       string `env:"MONGO_URI,default=mongodb://localhost:27017"`
	MongoDatabase  string `env:"MONGO_DATABASE,default=chat"`

	SendBufferSize    int           `env:"SEND_BUFFER_SIZE,default=256"`
	InboundBufferSize int           `env:"INBOUND_BUFFER_SIZE,default=64"`
	MaxInflightEvents int           `env:"MAX_INFLIGHT_EVENTS,default=8"`
	SinkTimeout       time.Duration `env:"SINK_TIMEOUT,default=2s"`

	WSPingInterval   time.Duration `env:"WS_PING_INTERVAL,default=25s"`
	WSWriteTimeout   time.Duration `env:"WS_WRITE_TIMEOUT,default=10s"`
	WSReadTimeout    time.Duration `env:"WS_READ_TIMEOUT,default=60s"`
	WSMaxMessageSize int64         `env:"WS_MAX_MESSAGE_SIZE,default=65536"`
	EventsPerSecond  float64       `env:"EVENTS_PER_SECOND,default=20"`
	EventBurst       int           `env:"EVENT_BURST,default=40"`

	StatsInterval   time.Duration `env:"STATS_INTERVAL,default=15s"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate rejects combinations the env tags cannot express.
func (c Config) Validate() error {
	if c.StoreDriver != StoreBadger && c.StoreDriver != StoreMongo {
		return fmt.Errorf("%w: %q", errors.ErrUnknownStoreDriver, c.StoreDriver)
	}
	if c.WSReadTimeout <= c.WSPingInterval {
		return fmt.Errorf("WS_READ_TIMEOUT (%s) must exceed WS_PING_INTERVAL (%s)", c.WSReadTimeout, c.WSPingInterval)
	}
	if c.SendBufferSize <= 0 || c.InboundBufferSize <= 0 {
		return fmt.Errorf("SEND_BUFFER_SIZE and INBOUND_BUFFER_SIZE must be positive")
	}
	return nil
}
