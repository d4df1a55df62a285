package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the process configuration for fundingd. The read-only rune is
// mandatory; the invoice and pay runes each gate their operation and may
// be omitted.
type Config struct {
	NodeURL       string `required:"true" envconfig:"CLNREST_URL"`
	NodeID        string `envconfig:"CLNREST_NODEID"`
	ReadRune      string `required:"true" envconfig:"CLNREST_READ_RUNE"`
	InvoiceRune   string `envconfig:"CLNREST_INVOICE_RUNE"`
	PayRune       string `envconfig:"CLNREST_PAY_RUNE"`
	TrustMaterial string `envconfig:"CLNREST_CERT"`
	Network       string `default:"bitcoin" envconfig:"NETWORK"`

	ReconnectInitial    time.Duration `default:"1s" envconfig:"STREAM_RECONNECT_INITIAL"`
	ReconnectMax        time.Duration `default:"30s" envconfig:"STREAM_RECONNECT_MAX"`
	ReconnectMultiplier float64       `default:"2" envconfig:"STREAM_RECONNECT_MULTIPLIER"`

	Debug   bool `default:"false" envconfig:"DEBUG"`
	UseMock bool `default:"false" envconfig:"USE_MOCK_BACKEND"`
}

func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, err
	}
	return c, nil
}
