package main

import (
	"os"
	"strings"
	"time"

	"github.com/codegangsta/cli"
	"github.com/spf13/viper"

	client "github.com/jsp-lqk/linepipe"
)

// Config is what the CLI reads from its YAML file, LINEPIPE_* variables and flags,
// in increasing order of precedence.
type Config struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	DialTimeout time.Duration `mapstructure:"dial-timeout"`
	Reconnect   bool          `mapstructure:"reconnect"`
	Quote       bool          `mapstructure:"quote"`
	LogLevel    string        `mapstructure:"log-level"`
}

func loadConfig(c *cli.Context) (*Config, error) {
	v := viper.New()
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", client.DefaultPort)
	v.SetDefault("dial-timeout", 5*time.Second)
	v.SetDefault("reconnect", false)
	v.SetDefault("quote", false)
	v.SetDefault("log-level", "warn")

	v.SetEnvPrefix("linepipe")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := c.GlobalString("config"); file != "" {
		if _, err := os.Stat(file); err != nil {
			log.WithError(err).Errorln("Unable to read config file")
			return nil, err
		}
		v.SetConfigType("yaml")
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			log.WithError(err).Errorln("Unable to read config file")
			return nil, err
		}
	}

	if c.GlobalIsSet("host") {
		v.Set("host", c.GlobalString("host"))
	}
	if c.GlobalIsSet("port") {
		v.Set("port", c.GlobalInt("port"))
	}
	if c.GlobalBool("reconnect") {
		v.Set("reconnect", true)
	}
	if c.GlobalBool("quote") {
		v.Set("quote", true)
	}
	if c.GlobalIsSet("log-level") {
		v.Set("log-level", c.GlobalString("log-level"))
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		log.WithError(err).Errorln("Unable to read config")
		return nil, err
	}
	return config, nil
}

func (cfg *Config) options() []client.Option {
	opts := []client.Option{client.WithDialTimeout(cfg.DialTimeout)}
	if cfg.Reconnect {
		opts = append(opts, client.WithReconnect(0, 0, 0))
	}
	if cfg.Quote {
		opts = append(opts, client.WithArgPolicy(client.ArgsQuote))
	}
	return opts
}
