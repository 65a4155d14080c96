package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	DatabaseAutoMigrate   bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StoreID               string
	CartTTLMinutes        int
	AuthSecret            string
	AccessTokenTTLMinutes int
}

// Load reads the environment. Variables from a .env file in the working
// directory fill in anything not already set.
func Load() Config {
	loadDotEnv(".env")

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cartTTL, err := strconv.Atoi(getEnv("CART_TTL_MINUTES", "720"))
	if err != nil || cartTTL < 1 {
		cartTTL = 720
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	autoMigrate, err := strconv.ParseBool(getEnv("DATABASE_AUTO_MIGRATE", "false"))
	if err != nil {
		autoMigrate = false
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		DatabaseAutoMigrate:   autoMigrate,
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		StoreID:               getEnv("DEFAULT_STORE_ID", "main-store"),
		CartTTLMinutes:        cartTTL,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) CartTTL() time.Duration {
	return time.Duration(c.CartTTLMinutes) * time.Minute
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] WARN: failed to read %s: %v", path, err)
	}
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
