package storage

import (
	"fmt"
	"sort"

	"credpool-go/internal/credential"
)

// Config selects and parameterizes a storage backend.
type Config struct {
	Backend       string // "memory", "postgres", "redis", "mongodb"
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	MongoURI      string
	MongoDatabase string
}

// Open constructs the configured store. Initialize must still be called.
func Open(cfg Config) (credential.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(cfg.PostgresDSN)
	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix), nil
	case "mongodb":
		return NewMongoStore(cfg.MongoURI, cfg.MongoDatabase), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// sortByPriority orders records by priority ascending, id ascending as
// tiebreak: the selection order contract shared by all backends that sort
// in process rather than in the engine.
func sortByPriority(records []*credential.Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].ID < records[j].ID
	})
}
