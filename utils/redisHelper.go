package utils

import (
	"os"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/config"
)

// GetCacheLifespan reads CACHE_LIFESPAN_MINUTES; read-surface listings go stale quickly upstream.
func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN_MINUTES"))
	if err != nil || lifespan <= 0 {
		lifespan = 10
	}
	return time.Duration(lifespan) * time.Minute
}

/* generic functions */

func StoreRedisList[T any](key string, list []T) error {
	return config.SetRedisObject(key, list, GetCacheLifespan())
}

// RetrieveRedisList returns (nil, false, nil) on a cache miss or when Redis is not connected.
func RetrieveRedisList[T any](key string) ([]T, bool, error) {
	var list []T
	exists, err := config.GetRedisObject(key, &list)
	if err != nil || !exists {
		return nil, false, err
	}
	return list, true, nil
}
