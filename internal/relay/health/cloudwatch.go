package health

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"conduit/internal/shared/logging"
)

// CloudWatchConfig holds CloudWatch metrics emission configuration
type CloudWatchConfig struct {
	// Region is the AWS region for CloudWatch
	Region string

	// Namespace is the CloudWatch namespace for custom metrics
	Namespace string

	// ServiceName is used as a dimension for metrics
	ServiceName string

	// EmitInterval is how often to emit metrics
	EmitInterval time.Duration

	// Enabled indicates if metrics emission is enabled
	Enabled bool
}

// LoadCloudWatchConfig loads emitter configuration from environment variables
func LoadCloudWatchConfig() *CloudWatchConfig {
	return &CloudWatchConfig{
		Region:       getEnvOrDefault("AWS_REGION", "us-east-1"),
		Namespace:    getEnvOrDefault("METRICS_NAMESPACE", "Conduit"),
		ServiceName:  getEnvOrDefault("METRICS_SERVICE_NAME", "conduit-relay"),
		EmitInterval: getEnvDuration("METRICS_EMIT_INTERVAL", 60*time.Second),
		Enabled:      getEnvBool("METRICS_CLOUDWATCH_ENABLED", false),
	}
}

// Validate checks if the configuration is valid
func (c *CloudWatchConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Region == "" {
		return fmt.Errorf("AWS_REGION is required when CloudWatch metrics are enabled")
	}
	if c.Namespace == "" {
		return fmt.Errorf("METRICS_NAMESPACE is required when CloudWatch metrics are enabled")
	}
	if c.EmitInterval < 10*time.Second {
		return fmt.Errorf("METRICS_EMIT_INTERVAL must be at least 10 seconds")
	}
	return nil
}

// CloudWatchEmitter mirrors relay health counters to CloudWatch on an
// interval. Emission failures degrade gracefully and never affect the
// relay itself.
type CloudWatchEmitter struct {
	config   *CloudWatchConfig
	client   *cloudwatch.Client
	reporter *Reporter
	logger   *logging.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	ticker   *time.Ticker
}

// NewCloudWatchEmitter creates a metrics emitter over the reporter
func NewCloudWatchEmitter(cfg *CloudWatchConfig, reporter *Reporter, logger *logging.Logger) (*CloudWatchEmitter, error) {
	if cfg == nil {
		cfg = &CloudWatchConfig{Enabled: false}
	}
	if logger == nil {
		logger = logging.NewLogger("cloudwatch-metrics")
	}

	if !cfg.Enabled {
		logger.Info("CloudWatch metrics disabled")
		return &CloudWatchEmitter{
			config:   cfg,
			reporter: reporter,
			logger:   logger,
		}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		logger.Warn("Failed to load AWS config, CloudWatch metrics will be disabled", "error", err.Error())
		cfg.Enabled = false
		return &CloudWatchEmitter{
			config:   cfg,
			reporter: reporter,
			logger:   logger,
		}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	emitter := &CloudWatchEmitter{
		config:   cfg,
		client:   cloudwatch.NewFromConfig(awsCfg),
		reporter: reporter,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		ticker:   time.NewTicker(cfg.EmitInterval),
	}

	logger.Info("CloudWatch metrics emitter initialized",
		"namespace", cfg.Namespace,
		"region", cfg.Region,
		"emitInterval", cfg.EmitInterval.String())

	return emitter, nil
}

// Start begins emitting metrics at the configured interval
func (e *CloudWatchEmitter) Start() {
	if !e.config.Enabled {
		return
	}

	e.logger.Info("Starting CloudWatch metrics emission")

	go func() {
		e.emit()

		for {
			select {
			case <-e.ctx.Done():
				e.logger.Info("CloudWatch metrics emission stopped")
				return
			case <-e.ticker.C:
				e.emit()
			}
		}
	}()
}

// Stop stops the emitter after a final emission
func (e *CloudWatchEmitter) Stop() {
	if !e.config.Enabled {
		return
	}

	e.logger.Info("Stopping CloudWatch metrics emitter")
	e.cancel()
	e.ticker.Stop()
	e.emit()
}

// emit sends the current counters to CloudWatch
func (e *CloudWatchEmitter) emit() {
	if !e.config.Enabled {
		return
	}

	successes, timeouts, errs := e.reporter.Counters()
	active := e.reporter.ActiveConnections()
	now := time.Now()

	dims := []types.Dimension{
		{
			Name:  aws.String("ServiceName"),
			Value: aws.String(e.config.ServiceName),
		},
	}

	datum := func(name string, value float64, unit types.StandardUnit) types.MetricDatum {
		return types.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(value),
			Unit:       unit,
			Timestamp:  &now,
			Dimensions: dims,
		}
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(e.config.Namespace),
		MetricData: []types.MetricDatum{
			datum("ActiveConnections", float64(active), types.StandardUnitCount),
			datum("ProxySuccesses", float64(successes), types.StandardUnitCount),
			datum("ProxyTimeouts", float64(timeouts), types.StandardUnitCount),
			datum("ProxyErrors", float64(errs), types.StandardUnitCount),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := e.client.PutMetricData(ctx, input); err != nil {
		e.logger.Warn("Failed to emit metrics to CloudWatch", "error", err.Error())
		return
	}

	e.logger.Debug("CloudWatch metrics emitted",
		"activeConnections", active,
		"successes", successes,
		"timeouts", timeouts,
		"errors", errs)
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration returns environment variable as duration or default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvBool returns environment variable as bool or default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
