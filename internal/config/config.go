package config

import (
	"log"
	"os"
	"time"
)

type Config struct {
	Port          string
	DBDSN         string
	LogFile       string
	RequestTTL    time.Duration
	OfferTTL      time.Duration
	SweepInterval time.Duration
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = "fixmarket.db"
	} // sqlite file in project root
	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "./fixmarket.log"
	}

	cfg := Config{
		Port:          port,
		DBDSN:         dsn,
		LogFile:       logFile,
		RequestTTL:    duration("REQUEST_TTL", 24*time.Hour),
		OfferTTL:      duration("OFFER_TTL", 2*time.Hour),
		SweepInterval: duration("SWEEP_INTERVAL", 30*time.Second),
	}
	log.Printf("[config] PORT=%s DB_DSN=%s REQUEST_TTL=%s OFFER_TTL=%s SWEEP_INTERVAL=%s",
		cfg.Port, cfg.DBDSN, cfg.RequestTTL, cfg.OfferTTL, cfg.SweepInterval)
	return cfg
}

func duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] bad %s=%q, using %s", key, v, def)
		return def
	}
	return d
}
