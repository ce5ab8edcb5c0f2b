// Package config loads relay server settings from a yaml file via viper.
package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Server    Server
	DB        DB
	Redis     Redis
	Log       Log
	RateLimit RateLimit
}

type Server struct {
	Addr string
}

type DB struct {
	DSN string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Log struct {
	Level string
}

// RateLimit caps requests per source per minute. The IP limit is deliberately
// looser than the per-user one so a NAT full of clients is not starved.
type RateLimit struct {
	IPPerMin   int
	UserPerMin int
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("log.level", "info")
	v.SetDefault("ratelimit.ipPerMin", 500)
	v.SetDefault("ratelimit.userPerMin", 100)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if c.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	return &c, nil
}
