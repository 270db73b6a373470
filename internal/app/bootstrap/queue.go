package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	amqp "github.com/rabbitmq/amqp091-go"

	appconfig "github.com/wolfman30/machinery-leadbot/internal/config"
	"github.com/wolfman30/machinery-leadbot/internal/conversation"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

// OpenQueue picks the start-job queue backend: RabbitMQ when AMQP_URL is set,
// otherwise BuildQueue's SQS or in-memory choice. The returned func releases
// broker connections and is always non-nil.
func OpenQueue(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (conversation.Queue, func(), error) {
	if logger == nil {
		logger = logging.Default()
	}
	url := strings.TrimSpace(cfg.AMQPURL)
	if cfg.UseMemoryQueue || url == "" {
		return BuildQueue(cfg, awsCfg, logger), func() {}, nil
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, func() {}, fmt.Errorf("bootstrap: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, func() {}, fmt.Errorf("bootstrap: open amqp channel: %w", err)
	}
	if err := conversation.DeclareAMQPTopology(ch, cfg.AMQPQueue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, func() {}, err
	}
	logger.Info("using rabbitmq notification queue", "queue", cfg.AMQPQueue)
	return conversation.NewAMQPQueue(ch, cfg.AMQPQueue), func() {
		_ = ch.Close()
		_ = conn.Close()
	}, nil
}
