package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/NewsDesk/internal/pkg/env"
)

var client *redis.Client

func addr() string {
	return fmt.Sprintf("%s:%s", env.GetEnv("CACHE_HOST", "localhost"), env.GetEnv("CACHE_PORT", "6379"))
}

// SetupCache initializes the connection to the Redis compatible cache server.
func SetupCache() {
	client = redis.NewClient(&redis.Options{
		Addr:     addr(),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetEnvInt("CACHE_DB", 0),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] could not connect to %s: %v", addr(), err)
	} else {
		log.Infof("[Cache] connected to %s: %s", addr(), pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// LimiterStorage returns a fiber storage backed by the cache server, so rate
// limits are shared between API instances.
func LimiterStorage() fiber.Storage {
	port, _ := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379"))
	return redisstorage.New(redisstorage.Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     port,
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		Database: env.GetEnvInt("CACHE_LIMITER_DB", 1),
		Reset:    false,
	})
}
