package bootstrap

import (
	"database/sql"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/wolfman30/support-hitl/internal/config"
	"github.com/wolfman30/support-hitl/internal/learning"
	"github.com/wolfman30/support-hitl/pkg/logging"
)

// BuildLearningStore composes the signal store: Postgres when a database is
// configured, otherwise memory, mirrored to the S3 archive and any extra
// mirrors (the event publisher).
func BuildLearningStore(cfg *appconfig.Config, sqlDB *sql.DB, awsCfg aws.Config, logger *logging.Logger, extra ...learning.Store) learning.Store {
	if logger == nil {
		logger = logging.Default()
	}

	var primary learning.Store
	if sqlDB != nil {
		primary = learning.NewPostgresStore(sqlDB)
	} else {
		logger.Warn("DATABASE_URL not set; learning signals kept in memory")
		primary = learning.NewMemoryStore()
	}

	var mirrors []learning.Store
	if cfg != nil && cfg.LearningArchiveBucket != "" {
		mirrors = append(mirrors, learning.NewArchiveStore(s3.NewFromConfig(awsCfg), cfg.LearningArchiveBucket, logger))
	}
	mirrors = append(mirrors, extra...)
	if len(mirrors) == 0 {
		return primary
	}
	return learning.NewMultiStore(primary, logger, mirrors...)
}
