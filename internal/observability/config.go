package observability

import (
	"strings"

	"github.com/smallbiznis/orderbridge/internal/config"
)

// Config is the slice of application config the tracer, meter and request
// logger need.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	LogLevel    string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "orderbridge"
	}
	protocol := cfg.Telemetry.Protocol
	switch protocol {
	case "http", "http/protobuf":
	default:
		protocol = "grpc"
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             cfg.Logger.Level,
		OtelEnabled:          cfg.Telemetry.Enabled,
		OtelExporterEndpoint: cfg.Telemetry.Endpoint,
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    cfg.Telemetry.SamplingRatio,
	}
}

// Debug adds raw error text to request logs.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
