package fcm

import "time"

type Config struct {
	Endpoint  string        `env:"FCM_ENDPOINT" envDefault:"https://fcm.googleapis.com/fcm/send"`
	ServerKey string        `env:"FCM_SERVER_KEY"`
	Timeout   time.Duration `env:"FCM_TIMEOUT" envDefault:"10s"`
	BatchSize int           `env:"FCM_BATCH_SIZE" envDefault:"1000"`
	Priority  string        `env:"FCM_PRIORITY" envDefault:"high"`
	TTL       time.Duration `env:"FCM_TTL" envDefault:"1h"`
}

// Enabled reports whether a server key is configured.
func (c Config) Enabled() bool {
	return c.ServerKey != ""
}
