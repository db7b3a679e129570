package config

import "time"

// Server defaults
const (
	DefaultPort            = "8080"
	DefaultDataDir         = "./data/adoptboard"
	DefaultMaxMemoryMB     = 48
	DefaultSnapshotBackend = "badger"
	EnvPrefix              = "ADOPTBOARD"
)

// Reconciliation defaults
const (
	DefaultKeyColumn      = "email"
	DefaultIdentitySuffix = "_id"
	DefaultUsageSuffix    = "_bpjs"
	DefaultCacheTTL       = 24 * time.Hour
	DefaultFetchTimeout   = 30 * time.Second
	DefaultDuplicates     = "collapse"
)

// Refresh retry and backoff
const (
	RefreshMinBackoff = 1 * time.Minute
	RefreshMaxBackoff = 30 * time.Minute
	RefreshTimeout    = 2 * time.Minute
	RefreshInterval   = 1 * time.Minute
	BadgerGCInterval  = 10 * time.Minute
)

// Metric defaults
const (
	// DefaultInitialBalance is the benefit budget that usage is drawn from.
	DefaultInitialBalance = "94575000"
	DefaultFrom           = "2024-01-01"
	DefaultTopTitles      = 10
	DefaultTopCategories  = 10
	DefaultTopRegions     = 20
	DefaultTopUsers       = 20
	MemoSize              = 512
)

// Request timeouts and limits
const (
	QueryTimeout      = 30 * time.Second
	DefaultPageLimit  = 100
	MaxPageLimit      = 5000
	ChartLabelWords   = 6
	ShutdownTimeout   = 10 * time.Second
	ReadHeaderTimeout = 10 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
