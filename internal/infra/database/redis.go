package database

import (
	"github.com/redis/go-redis/v9"

	"github.com/totegamma/pairdata/internal/config"
)

func NewRedis(conf config.Server) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     conf.RedisAddr,
		Password: conf.RedisPassword,
		DB:       conf.RedisDB,
	})
}
