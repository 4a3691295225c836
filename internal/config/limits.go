package config

import (
	"time"
)

type Limits struct {
	MaxConcurrentChapters int             `yaml:"max_concurrent_chapters" validate:"required,min=1,max=32"`
	MaxPromptSize         int             `yaml:"max_prompt_size" validate:"required,min=1000,max=1000000"`
	MaxRetries            int             `yaml:"max_retries" validate:"min=0,max=10"`
	TotalTimeout          time.Duration   `yaml:"total_timeout" validate:"required,min=1m,max=48h"`
	RateLimit             RateLimitConfig `yaml:"rate_limit" validate:"required"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"required,min=1,max=1000"`
	BurstSize         int `yaml:"burst_size" validate:"required,min=1,max=100"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxConcurrentChapters: 3,
		MaxPromptSize:         200000,
		MaxRetries:            3,
		TotalTimeout:          6 * time.Hour,
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			BurstSize:         5,
		},
	}
}
