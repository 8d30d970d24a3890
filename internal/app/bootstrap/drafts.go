package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/support-hitl/internal/config"
	"github.com/wolfman30/support-hitl/internal/hitl"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

// BuildDraftGenerator selects the draft provider. Unknown providers are an error
// so a typo never silently falls back to canned replies in production.
func BuildDraftGenerator(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (hitl.DraftGenerator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.DraftProvider {
	case "", "stub":
		logger.Warn("using stub draft generator")
		return hitl.StubDraftGenerator{}, nil
	case "bedrock":
		model := strings.TrimSpace(cfg.BedrockModelID)
		if model == "" {
			return nil, fmt.Errorf("bootstrap: BEDROCK_MODEL_ID is required for the bedrock draft provider")
		}
		logger.Info("bedrock draft generator enabled", "model", model)
		return hitl.NewBedrockDraftGenerator(bedrockruntime.NewFromConfig(awsCfg), model), nil
	}
	return nil, fmt.Errorf("bootstrap: unknown draft provider %q", cfg.DraftProvider)
}
