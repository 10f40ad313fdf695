package config

import "time"

// DefaultConfig returns the built-in configuration defaults. Every value
// can be overridden by the config file or a LECTERN_-prefixed environment
// variable.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			Path: "lectern.db",
		},
		Queue: QueueConfig{
			Workers:                 2,
			MaxAttempts:             3,
			RetryBaseDelaySeconds:   2,
			DispatchesPerMinute:     5,
			CompletedRetentionHours: 1,
			FailedRetentionHours:    24,
		},
		Reconcile: ReconcileConfig{
			ItemThresholdMinutes:  30,
			SweepThresholdMinutes: 60,
			SweepIntervalMinutes:  15,
		},
		OpenAI: OpenAIConfig{
			APIKey:          "${OPENAI_API_KEY}",
			TranscribeModel: "whisper-1",
			SummaryModel:    "gpt-4o-mini",
			SpeechModel:     "tts-1-hd",
			Voice:           "onyx",
		},
		Storage: StorageConfig{
			SupabaseURL: "${SUPABASE_URL}",
			SupabaseKey: "${SUPABASE_SERVICE_KEY}",
			Bucket:      "audiobooks",
		},
		Events: EventsConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "lectern.item-status",
		},
		Uploads: UploadsConfig{
			Dir: "",
		},
	}
}

// RetryBaseDelay returns the queue retry base delay as a duration.
func (q QueueConfig) RetryBaseDelay() time.Duration {
	return time.Duration(q.RetryBaseDelaySeconds) * time.Second
}

// CompletedRetention returns the completed-job retention window.
func (q QueueConfig) CompletedRetention() time.Duration {
	return time.Duration(q.CompletedRetentionHours) * time.Hour
}

// FailedRetention returns the failed-job retention window.
func (q QueueConfig) FailedRetention() time.Duration {
	return time.Duration(q.FailedRetentionHours) * time.Hour
}

// ItemThreshold returns the single-item stuck threshold.
func (r ReconcileConfig) ItemThreshold() time.Duration {
	return time.Duration(r.ItemThresholdMinutes) * time.Minute
}

// SweepThreshold returns the bulk-sweep stuck threshold.
func (r ReconcileConfig) SweepThreshold() time.Duration {
	return time.Duration(r.SweepThresholdMinutes) * time.Minute
}

// SweepInterval returns how often the background sweep runs.
func (r ReconcileConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalMinutes) * time.Minute
}
