package config

import (
	"fmt"
	"log"
	"os"
	"os/user"

	"github.com/caarlos0/env/v11"
	yaml "gopkg.in/yaml.v3"
)

var Values *Config

type Config struct {
	Server struct {
		Name  string `yaml:"name" env:"GCHAT_SERVER_NAME"`
		Host  string `yaml:"host" env:"GCHAT_HOST"`
		Port  string `yaml:"port" env:"GCHAT_PORT"`
		Debug bool   `yaml:"debug" env:"GCHAT_DEBUG"`
	} `yaml:"server"`
	Storage struct {
		Dir string `yaml:"dir" env:"GCHAT_STORAGE_DIR"`
	} `yaml:"storage"`
	WebSocket struct {
		Enabled bool   `yaml:"enabled" env:"GCHAT_WS_ENABLED"`
		Addr    string `yaml:"addr" env:"GCHAT_WS_ADDR"`
	} `yaml:"websocket"`
	Redis struct {
		Enabled bool   `yaml:"enabled" env:"GCHAT_REDIS_ENABLED"`
		URL     string `yaml:"url" env:"GCHAT_REDIS_URL"`
		PodID   string `yaml:"pod_id" env:"GCHAT_POD_ID"`
	} `yaml:"redis"`
}

const defaultConf = `server:
    host: "localhost"
    port: "3000"
    name: "gchat server"
    debug: false
storage:
    dir: "."
websocket:
    enabled: false
    addr: ":8080"
redis:
    enabled: false
    url: "redis://localhost:6379"
`

func getConf() *Config {
	c := &Config{}
	osUser, err := user.Current()
	if err != nil {
		panic(err)
	}
	userHome := osUser.HomeDir

	configDir := fmt.Sprintf("%s%s.gchat%s", userHome, string(os.PathSeparator), string(os.PathSeparator))
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		os.Mkdir(configDir, 0o755)
	}
	confPath := fmt.Sprintf("%sconf.yaml", configDir)
	if _, err := os.Stat(confPath); os.IsNotExist(err) {
		os.WriteFile(confPath, []byte(defaultConf), 0o644)
	}

	yamlFile, err := os.ReadFile(confPath)
	if err != nil {
		log.Printf("yamlFile.Get err   #%v ", err)
	}
	if err := yaml.Unmarshal(yamlFile, c); err != nil {
		log.Fatalf("Unmarshal: %v", err)
	}

	// Environment variables win over the config file.
	if err := env.Parse(c); err != nil {
		log.Fatalf("Parsing environment overrides: %v", err)
	}
	return c
}

func init() {
	Values = getConf()
}
