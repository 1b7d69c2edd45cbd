package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-yaml/yaml"
)

const (
	DefaultListen         = ":8000"
	DefaultPairingDetail  = "/api/v2/assets/{asset}/paired-data/{pairing}/external.xml"
	DefaultFingerprintTTL = 30 * 24 * time.Hour
	DefaultConfigPath     = "/etc/pairdata/config.yaml"
	ConfigPathEnv         = "PAIRDATA_CONFIG"
)

const defaultAllowedExtension = ".xml"

type Config struct {
	Server  Server  `yaml:"server"`
	Routing Routing `yaml:"routing"`
	Pairing Pairing `yaml:"pairing"`
}

type Server struct {
	Listen        string `yaml:"listen"`
	PostgresDsn   string `yaml:"postgresDsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

// Routing describes how external pairing locators are built.
type Routing struct {
	BaseURL       string `yaml:"baseURL"`
	PairingDetail string `yaml:"pairingDetail"` // placeholders: {asset}, {pairing}
}

type Pairing struct {
	AllowedExtensions []string      `yaml:"allowedExtensions"`
	FingerprintTTL    time.Duration `yaml:"fingerprintTTL"`
}

// Path returns the config file location from the environment.
func Path() string {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p
	}
	return DefaultConfigPath
}

func Load(path string) (Config, error) {

	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	config.Normalize()

	return config, nil
}

// Normalize fills defaults and canonicalizes extensions to lowercase with a leading dot.
func (c *Config) Normalize() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	c.Routing.BaseURL = strings.TrimSuffix(c.Routing.BaseURL, "/")
	if c.Routing.PairingDetail == "" {
		c.Routing.PairingDetail = DefaultPairingDetail
	}
	if c.Pairing.FingerprintTTL <= 0 {
		c.Pairing.FingerprintTTL = DefaultFingerprintTTL
	}

	exts := make([]string, 0, len(c.Pairing.AllowedExtensions))
	for _, ext := range c.Pairing.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	if len(exts) == 0 {
		exts = []string{defaultAllowedExtension}
	}
	c.Pairing.AllowedExtensions = exts
}
