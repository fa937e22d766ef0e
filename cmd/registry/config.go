package main

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// durationSetting reads a positive duration from key. Zero, negative or
// unparseable values fall back to def with a warning.
func durationSetting(logger *zap.Logger, key string, def time.Duration) time.Duration {
	d := viper.GetDuration(key)
	if d <= 0 {
		logger.Warn("invalid duration setting, using default",
			zap.String("key", key),
			zap.String("value", viper.GetString(key)),
			zap.Duration("default", def),
		)
		return def
	}
	return d
}

// contentTTL returns the Redis blob TTL. Registered certificates never
// expire, so a blob must not expire before its record; only 0 is accepted.
func contentTTL() (time.Duration, error) {
	if ttl := viper.GetDuration("content.ttl"); ttl != 0 {
		return 0, fmt.Errorf("content.ttl is %s: registry content must not expire while its certificate record exists; set it to 0", ttl)
	}
	return 0, nil
}
