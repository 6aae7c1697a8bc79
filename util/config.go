package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
)

const Name = "subverse"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type DeliveryConfig struct {
	Workers       int `yaml:"workers"`
	MaxAttempts   int `yaml:"maxAttempts"`
	TimeoutSecs   int `yaml:"timeoutSecs"`
	RetentionDays int `yaml:"retentionDays"`
}

type AppConfig struct {
	Conf struct {
		Host                string
		HttpPort            int    `yaml:"httpPort"`
		Domain              string `yaml:"domain"`    // public-facing domain
		ApiDomain           string `yaml:"apiDomain"` // empty means same as Domain
		WithAp              bool   `yaml:"withAp"`
		EnforceSignatures   bool   `yaml:"enforceSignatures"`
		AdminToken          string `yaml:"adminToken"`
		RemoteActorTtlHours int    `yaml:"remoteActorTtlHours"`
		Delivery            DeliveryConfig
	}
}

// ApiDomainOrDefault returns the API domain, falling back to the public domain.
// Both resolve to the same deployment; webfinger accepts either.
func (c *AppConfig) ApiDomainOrDefault() string {
	if c.Conf.ApiDomain != "" {
		return c.Conf.ApiDomain
	}
	return c.Conf.Domain
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	applyEnvOverrides(c)
	applyDefaults(c)

	return c, nil
}

func applyEnvOverrides(c *AppConfig) {
	if v := os.Getenv("SUBVERSE_HOST"); v != "" {
		c.Conf.Host = v
	}

	if v := os.Getenv("SUBVERSE_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.HttpPort = port
		}
	}

	if v := os.Getenv("SUBVERSE_DOMAIN"); v != "" {
		c.Conf.Domain = v
	}

	if v := os.Getenv("SUBVERSE_APIDOMAIN"); v != "" {
		c.Conf.ApiDomain = v
	}

	if v := os.Getenv("SUBVERSE_WITH_AP"); v == "true" {
		c.Conf.WithAp = true
	}

	if v := os.Getenv("SUBVERSE_ENFORCE_SIGNATURES"); v != "" {
		c.Conf.EnforceSignatures = v == "true"
	}

	if v := os.Getenv("SUBVERSE_ADMIN_TOKEN"); v != "" {
		c.Conf.AdminToken = v
	}
}

func applyDefaults(c *AppConfig) {
	if c.Conf.RemoteActorTtlHours <= 0 {
		c.Conf.RemoteActorTtlHours = 24
	}
	if c.Conf.Delivery.Workers <= 0 {
		c.Conf.Delivery.Workers = 8
	}
	if c.Conf.Delivery.MaxAttempts <= 0 {
		c.Conf.Delivery.MaxAttempts = 5
	}
	if c.Conf.Delivery.TimeoutSecs <= 0 {
		c.Conf.Delivery.TimeoutSecs = 8
	}
	if c.Conf.Delivery.RetentionDays <= 0 {
		c.Conf.Delivery.RetentionDays = 30
	}
}
