package sizing

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Config represents the run settings of the sizing pipeline. Scenario data
// (meters, tariffs, forecasts) travels separately, so the same Config can
// drive many scenarios.
type Config struct {
	// Solver settings
	Solver  string        `json:"solver"`  // registered solver backend name
	Timeout time.Duration `json:"timeout"` // solver time limit
	MIPGap  float64       `json:"mipgap"`  // relative optimality tolerance [0-1]

	// Clustering settings
	NrClusters int `json:"nr_clusters"` // representative days to cluster into (0 = no clustering)

	// PV profile synthesis for meters without generation data
	Latitude           float64 `json:"latitude"`
	Longitude          float64 `json:"longitude"`
	PVPerformanceRatio float64 `json:"pv_performance_ratio"`
	StartDate          string  `json:"start_date"` // first day of the horizon (YYYY-MM-DD)

	// Weather derating of synthesized generation profiles. The MET API
	// requires an identifying user agent; empty keeps profiles clear-sky.
	WeatherUserAgent string `json:"weather_user_agent"`

	// Day-ahead tariff synthesis for meters without buy/sell tariffs
	EntsoeToken string  `json:"entsoe_token"`  // transparency platform token; empty = no synthesis
	EntsoeArea  string  `json:"entsoe_area"`   // bidding zone EIC code
	BuyMarkup   float64 `json:"l_buy_markup"`  // EUR/kWh on top of wholesale when buying
	SellMargin  float64 `json:"l_sell_margin"` // EUR/kWh off wholesale when selling

	// Logging settings
	LogLevel  string `json:"log_level"`  // Log level: debug, info, warn, error
	LogFormat string `json:"log_format"` // Log format: text, json

	// Results persistence
	PostgresConnString string `json:"postgres_conn_string"` // empty = do not persist
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Solver:             "bnb",
		Timeout:            60 * time.Second,
		MIPGap:             0.01,
		NrClusters:         0,
		Latitude:           56.9496, // Riga, Latvia
		Longitude:          24.1052, // Riga, Latvia
		PVPerformanceRatio: 0.8,
		StartDate:          "",
		WeatherUserAgent:   "",
		EntsoeToken:        "",
		EntsoeArea:         "10YLV-1001A00074", // Latvia bidding zone
		BuyMarkup:          0.12,
		SellMargin:         0.01,
		LogLevel:           "info",
		LogFormat:          "text",
		PostgresConnString: "",
	}
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration from an io.Reader
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	config := DefaultConfig()

	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config JSON: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a JSON file
func (c *Config) SaveConfig(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config JSON: %w", err)
	}

	return nil
}

// MarshalJSON implements custom JSON marshaling to handle durations
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		*Alias
		Timeout string `json:"timeout"`
	}{
		Alias:   (*Alias)(c),
		Timeout: c.Timeout.String(),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling to handle durations
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		*Alias
		Timeout string `json:"timeout"`
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Timeout != "" {
		var err error
		if c.Timeout, err = time.ParseDuration(aux.Timeout); err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
	}

	return nil
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	if c.Solver == "" {
		return fmt.Errorf("solver cannot be empty")
	}

	if c.NrClusters < 0 {
		return fmt.Errorf("nr_clusters cannot be negative, got: %d", c.NrClusters)
	}

	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got: %f", c.Latitude)
	}

	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got: %f", c.Longitude)
	}

	if c.StartDate != "" {
		if _, err := time.Parse("2006-01-02", c.StartDate); err != nil {
			return fmt.Errorf("start_date must be YYYY-MM-DD: %w", err)
		}
	}

	if c.EntsoeToken != "" && c.EntsoeArea == "" {
		return fmt.Errorf("entsoe_area must be set when entsoe_token is set")
	}

	if c.BuyMarkup < 0 {
		return fmt.Errorf("l_buy_markup cannot be negative, got: %f", c.BuyMarkup)
	}

	if c.SellMargin < 0 {
		return fmt.Errorf("l_sell_margin cannot be negative, got: %f", c.SellMargin)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got: %s", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got: %s", c.LogFormat)
	}

	return nil
}
