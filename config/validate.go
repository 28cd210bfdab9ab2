package config

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

var portRule = []validation.Rule{validation.Required, validation.Min(1), validation.Max(65535)}

// Validate 校验配置
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Ollama),
		validation.Field(&c.RateLimit),
		validation.Field(&c.Metrics),
		validation.Field(&c.Session),
		validation.Field(&c.Cache),
		validation.Field(&c.Log),
		validation.Field(&c.Telemetry),
	)
}

// Validate 校验服务器配置
func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.HTTPPort, portRule...),
		validation.Field(&s.MetricsPort, portRule...),
		validation.Field(&s.ReadTimeout, validation.Min(0)),
		validation.Field(&s.WriteTimeout, validation.Min(0)),
		validation.Field(&s.IdleTimeout, validation.Min(0)),
		validation.Field(&s.ShutdownTimeout, validation.Min(0)),
		validation.Field(&s.APIKeys, validation.When(!s.APIKeyOptional,
			validation.Required.Error("at least one api key is required when api_key_optional is false"))),
	)
}

// Validate 校验 Ollama 配置
func (o OllamaConfig) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.BaseURL, validation.Required, is.URL),
		validation.Field(&o.DefaultModel, validation.Required),
		validation.Field(&o.ConnectTimeout, validation.Min(0)),
		validation.Field(&o.RequestTimeout, validation.Min(0)),
	)
}

// Validate 校验限流配置
func (r RateLimitConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RPS, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&r.Burst, validation.Required, validation.Min(1)),
		validation.Field(&r.Shards, validation.Min(0)),
		validation.Field(&r.MaxIdentities, validation.Min(0)),
	)
}

// Validate 校验指标配置
func (m MetricsConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.WindowSize, validation.Required, validation.Min(1)),
		validation.Field(&m.Namespace, validation.Required),
	)
}

func (s SessionConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.MaxTurnDuration, validation.Required, validation.Min(0).Exclusive()),
	)
}

// Validate 校验缓存配置；未启用时不检查地址
func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.DB, validation.Min(0)),
		validation.Field(&c.ModelsTTL, validation.Min(0)),
	)
}

// Validate 校验日志配置
func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.Required, validation.In("json", "console")),
		validation.Field(&l.File),
	)
}

func (f LogFileConfig) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.MaxSizeMB, validation.Min(0)),
		validation.Field(&f.MaxBackups, validation.Min(0)),
		validation.Field(&f.MaxAgeDays, validation.Min(0)),
	)
}

// Validate 校验遥测配置
func (t TelemetryConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.OTLPEndpoint, validation.When(t.Enabled, validation.Required)),
		validation.Field(&t.SampleRate, validation.Min(0.0), validation.Max(1.0)),
	)
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var verrs validation.Errors
	return errors.As(err, &verrs)
}
