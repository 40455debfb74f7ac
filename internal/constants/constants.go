package constants

import "time"

const (
	DatabaseTimeout = 5 * time.Second
	PersistTimeout  = 10 * time.Second
	TerrainTimeout  = 30 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
	DBBatchSize       = 100
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	InstanceIDLength = 8
)
