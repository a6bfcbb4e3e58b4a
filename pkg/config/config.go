package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"festchat/pkg/api"
)

// Config is the startup surface: endpoints and the visibility-policy mode
// are injected here, never hardcoded into component logic.
type Config struct {
	APIBaseURL       string        `envconfig:"api_base_url" default:"http://localhost:3002/api"`
	RealtimeURL      string        `envconfig:"realtime_url" default:"ws://localhost:3002/ws"`
	VisibilityPolicy string        `envconfig:"visibility_policy" default:"open"`
	RequestTimeout   time.Duration `envconfig:"request_timeout" default:"15s"`
	DiagAddr         string        `envconfig:"diag_addr"`

	LoginEmail    string `envconfig:"login_email"`
	LoginPassword string `envconfig:"login_password"`
	AccessToken   string `envconfig:"access_token"`
	RefreshToken  string `envconfig:"refresh_token"`
}

// Load reads FESTCHAT_* environment variables, honoring a .env file when
// present.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("no .env file found, using process environment")
	}

	var cfg Config
	if err := envconfig.Process("festchat", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PolicyMode maps the configured string onto a policy mode, defaulting to
// open for anything unrecognized.
func (c Config) PolicyMode() api.PolicyMode {
	if c.VisibilityPolicy == string(api.PolicyRestricted) {
		return api.PolicyRestricted
	}
	return api.PolicyOpen
}
