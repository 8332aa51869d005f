package commons

import "time"

const (
	DefaultBufferSize        = 1024
	DefaultPrefetch          = 10
	AllowedRPS               = 10
	AllowedBurst             = 20
	MaxIngestBodyBytes       = 1 << 20
	ExternalClientMaxRetries = 3
	ExternalClientBaseDelay  = time.Second
	ExternalClientMaxDelay   = 30 * time.Second
	SettingsCacheExpiration  = 5 * time.Minute
	ServerIdleTimeout        = time.Minute
	ServerReadTimeout        = 10 * time.Second
	ServerWriteTimeout       = 30 * time.Second
	ShutdownTimeout          = 30 * time.Second
)
