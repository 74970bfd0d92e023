package config

import (
	"net"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerC  `yaml:"server"`
	Debug   DebugC   `yaml:"debug"`
	Gateway GatewayC `yaml:"gateway"`
	P2P     P2PS     `yaml:"p2p"`
	Repo    RepoC    `yaml:"repo"`
}

type ServerC struct {
	Addr string `yaml:"addr"`
}

type DebugC struct {
	Enable bool `yaml:"enable"`
	Port   int  `yaml:"port"`
}

type GatewayC struct {
	// OpTimeout caps operations that carry no explicit timeout param.
	OpTimeout time.Duration `yaml:"opTimeout"`
}

type P2PS struct {
	ServiceDiscoveryID  string   `yaml:"serviceDiscoveryId"`
	ServiceDiscoverMode string   `yaml:"serviceDiscoverMode"`
	NodeHostIP          string   `yaml:"nodeHostIp"`
	NodeHostPort        int      `yaml:"nodeHostPort"`
	Bootstrap           []string `yaml:"bootstrap"`
}

type RepoC struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

func init() {
	defaultConfig = &Config{}
}

var defaultConfig *Config

func InitConfig(path string) {
	_ = godotenv.Load()

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err := viper.Unmarshal(defaultConfig)
	if err != nil {
		panic(err)
	}

	if defaultConfig.Server.Addr == "" {
		defaultConfig.Server.Addr = ":8090"
	}

	if net.ParseIP(defaultConfig.P2P.NodeHostIP) == nil {
		defaultConfig.P2P.NodeHostIP = "0.0.0.0"
	}

	if defaultConfig.P2P.NodeHostPort < 0 || defaultConfig.P2P.NodeHostPort > 65535 {
		defaultConfig.P2P.NodeHostPort = 0
	}

	if defaultConfig.Gateway.OpTimeout < 0 {
		defaultConfig.Gateway.OpTimeout = 0
	}
}

func Get() *Config {
	return defaultConfig
}
