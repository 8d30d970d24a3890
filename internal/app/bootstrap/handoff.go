package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	appconfig "github.com/wolfman30/support-hitl/internal/config"
	"github.com/wolfman30/support-hitl/internal/handoff"
	"github.com/wolfman30/support-hitl/internal/observability/metrics"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

// BuildHandoffRecorder returns the decision recorder, persisting to DynamoDB
// when HANDOFF_METRICS_TABLE is set.
func BuildHandoffRecorder(cfg *appconfig.Config, awsCfg aws.Config, m *metrics.HandoffMetrics, logger *logging.Logger) *handoff.Recorder {
	opts := []handoff.RecorderOption{handoff.WithMetrics(m), handoff.WithRecorderLogger(logger)}
	capacity := 0
	if cfg != nil {
		capacity = cfg.HandoffAuditCapacity
		if cfg.HandoffMetricsTable != "" {
			opts = append(opts, handoff.WithSink(handoff.NewDynamoSink(dynamodb.NewFromConfig(awsCfg), cfg.HandoffMetricsTable)))
		}
	}
	return handoff.NewRecorder(capacity, opts...)
}
