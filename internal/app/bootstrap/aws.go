package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/machinery-leadbot/internal/archive"
	appconfig "github.com/wolfman30/machinery-leadbot/internal/config"
	"github.com/wolfman30/machinery-leadbot/internal/conversation"
	"github.com/wolfman30/machinery-leadbot/internal/notify"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

const memoryQueueBuffer = 256

// BuildQueue returns the start-job queue. The in-process queue is used when
// USE_MEMORY_QUEUE is set or no SQS queue URL is configured.
func BuildQueue(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) conversation.Queue {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.UseMemoryQueue || strings.TrimSpace(cfg.NotificationQueueURL) == "" {
		logger.Info("using in-memory notification queue")
		return conversation.NewMemoryQueue(memoryQueueBuffer)
	}
	logger.Info("using sqs notification queue", "queue_url", cfg.NotificationQueueURL)
	return conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.NotificationQueueURL)
}

// BuildJobStore prefers DynamoDB when a table is configured, then Postgres, then memory.
func BuildJobStore(cfg *appconfig.Config, awsCfg aws.Config, pool *pgxpool.Pool, logger *logging.Logger) conversation.JobTracker {
	if logger == nil {
		logger = logging.Default()
	}
	switch {
	case !cfg.UseMemoryQueue && strings.TrimSpace(cfg.NotificationJobsTable) != "":
		return conversation.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.NotificationJobsTable, logger)
	case pool != nil:
		return conversation.NewPGJobStore(pool)
	default:
		return conversation.NewMemoryJobStore()
	}
}

// BuildArchiver returns the S3 transcript archive, or nil when ARCHIVE_BUCKET is unset.
func BuildArchiver(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) conversation.TranscriptArchiver {
	if strings.TrimSpace(cfg.ArchiveBucket) == "" {
		return nil
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.AWSEndpointOverride != ""
	})
	return archive.NewStore(client, cfg.ArchiveBucket, logger)
}

// BuildEmailSender prefers SendGrid, then SES, then a sender that only logs.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.SendGridAPIKey) != "" {
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender
		}
	}
	if strings.TrimSpace(cfg.SESFromEmail) != "" {
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	}
	logger.Warn("no e-mail provider configured; sales notifications will only be logged")
	return notify.NewStubEmailSender(logger)
}
