package presence

import "time"

// Config holds presence thresholds and sweep settings
type Config struct {
	Inactive             time.Duration // stage 1: "telemetry stopped"
	Prolonged            time.Duration // stage 2: extended report
	SweepInterval        time.Duration
	SweepRetries         uint64
	RetryInitialInterval time.Duration
	SweepConcurrency     int
	PowerOnMinVolt       float64
	PublicBaseURL        string
	// MaxClockSkew bounds how far a sample may run ahead of its receive time
	// before the receive time is used as last-seen
	MaxClockSkew time.Duration
}

// DefaultConfig returns the stock thresholds
func DefaultConfig() Config {
	return Config{
		Inactive:             3 * time.Minute,
		Prolonged:            10 * time.Minute,
		SweepInterval:        time.Minute,
		SweepRetries:         3,
		RetryInitialInterval: 2 * time.Second,
		SweepConcurrency:     8,
		PowerOnMinVolt:       10.0,
		PublicBaseURL:        "http://127.0.0.1:8080",
		MaxClockSkew:         10 * time.Minute,
	}
}
