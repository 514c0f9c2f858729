// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"
)

const (
	configEnv         = "WAYBARLOCATION"
	DefaultTextTpl    = "{{if .HasFix}}{{.Latitude}}, {{.Longitude}}{{else}}{{.Status}}{{end}}"
	DefaultTooltipTpl = "{{if .HasFix}}{{.Address}}\n{{loc \"accuracy\"}}: {{floatFormat .Accuracy 0}} m " +
		"({{.Source}}, {{.FixAge}}){{else}}{{.Status}}{{end}}\n{{loc \"action\"}}: {{.Action}}"
)

var geocoderProviders = map[string]bool{
	"nominatim":     false,
	"opencage":      true,
	"geocode-earth": true,
	"google":        true,
}

// Config represents the application's configuration structure.
type Config struct {
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Refinement struct {
		// Meters, refinement ends once a fix is at least this accurate
		DesiredAccuracy  float64       `fig:"desired_accuracy" default:"10"`
		Timeout          time.Duration `fig:"timeout" default:"60s"`
		MaxReadingAge    time.Duration `fig:"max_reading_age" default:"5s"`
		ConvergeDistance float64       `fig:"converge_distance" default:"1.0"`
		ConvergeAfter    time.Duration `fig:"converge_after" default:"10s"`
		AutoStart        bool          `fig:"auto_start" default:"true"`
	} `fig:"refinement"`

	Intervals struct {
		Output time.Duration `fig:"output" default:"30s"`
	} `fig:"intervals"`

	Templates struct {
		Text    string `fig:"text"`
		Tooltip string `fig:"tooltip"`
	} `fig:"templates"`

	GeoLocation struct {
		File                   string `fig:"file"`
		GPSDAddr               string `fig:"gpsd_addr" default:"localhost:2947"`
		SerialDevice           string `fig:"serial_device"`
		SerialBaud             uint   `fig:"serial_baud" default:"9600"`
		DisableGPSD            bool   `fig:"disable_gpsd"`
		DisableGeolocationFile bool   `fig:"disable_geolocation_file"`
		DisableICHNAEA         bool   `fig:"disable_ichnaea"`
		DisableGeoIP           bool   `fig:"disable_geoip"`
	} `fig:"geolocation"`

	Geocoder struct {
		// Allowed values: nominatim, opencage, geocode-earth, google
		Provider     string        `fig:"provider" default:"nominatim"`
		APIKey       string        `fig:"apikey"`
		Timeout      time.Duration `fig:"timeout" default:"10s"`
		CacheTTL     time.Duration `fig:"cache_ttl" default:"1h"`
		CacheMissTTL time.Duration `fig:"cache_miss_ttl" default:"5m"`
	} `fig:"geocoder"`

	MQTT struct {
		Broker       string `fig:"broker"`
		Topic        string `fig:"topic" default:"waybar-location/display"`
		CommandTopic string `fig:"command_topic" default:"waybar-location/command"`
		ClientID     string `fig:"client_id" default:"waybar-location"`
		Username     string `fig:"username"`
		Password     string `fig:"password"`
	} `fig:"mqtt"`

	WebSocket struct {
		Listen string `fig:"listen"`
	} `fig:"websocket"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	if c.Locale == "" {
		c.Locale = getLocale()
	}
	if c.Refinement.DesiredAccuracy <= 0 {
		return fmt.Errorf("invalid desired accuracy: %f", c.Refinement.DesiredAccuracy)
	}
	if c.Refinement.Timeout <= 0 {
		return fmt.Errorf("invalid refinement timeout: %s", c.Refinement.Timeout)
	}
	if c.Refinement.MaxReadingAge <= 0 {
		return fmt.Errorf("invalid max reading age: %s", c.Refinement.MaxReadingAge)
	}
	if c.Refinement.ConvergeDistance < 0 || c.Refinement.ConvergeAfter < 0 {
		return fmt.Errorf("invalid convergence settings: %f/%s", c.Refinement.ConvergeDistance,
			c.Refinement.ConvergeAfter)
	}
	if c.Intervals.Output < time.Second {
		return fmt.Errorf("invalid output interval: %s", c.Intervals.Output)
	}
	needsKey, ok := geocoderProviders[c.Geocoder.Provider]
	if !ok {
		return fmt.Errorf("invalid geocoder provider: %s", c.Geocoder.Provider)
	}
	if needsKey && c.Geocoder.APIKey == "" {
		return fmt.Errorf("geocoder provider %s requires an API key", c.Geocoder.Provider)
	}
	if c.Geocoder.Timeout <= 0 {
		return fmt.Errorf("invalid geocoder timeout: %s", c.Geocoder.Timeout)
	}
	if c.GeoLocation.SerialDevice != "" && c.GeoLocation.SerialBaud == 0 {
		return fmt.Errorf("invalid serial baud rate: %d", c.GeoLocation.SerialBaud)
	}
	if c.Templates.Text == "" {
		c.Templates.Text = DefaultTextTpl
	}
	if c.Templates.Tooltip == "" {
		c.Templates.Tooltip = DefaultTooltipTpl
	}
	if c.GeoLocation.File == "" {
		home, _ := os.UserHomeDir()
		c.GeoLocation.File = filepath.Join(home, ".config", "waybar-location", "geolocation")
	}

	return nil
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}
