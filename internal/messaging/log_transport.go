package messaging

import (
	"context"

	"github.com/google/uuid"

	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

// LogTransport writes outbound messages to the log instead of the network.
// Used when no WhatsApp credentials are configured.
type LogTransport struct {
	logger *logging.Logger
}

var _ Transport = (*LogTransport)(nil)

func NewLogTransport(logger *logging.Logger) *LogTransport {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) SendText(_ context.Context, to string, p Text) (RawResult, error) {
	return t.log(to, p), nil
}

func (t *LogTransport) SendButtons(_ context.Context, to string, p Buttons) (RawResult, error) {
	return t.log(to, p), nil
}

func (t *LogTransport) SendList(_ context.Context, to string, p List) (RawResult, error) {
	return t.log(to, p), nil
}

func (t *LogTransport) SendTemplate(_ context.Context, to string, p Template) (RawResult, error) {
	return t.log(to, p), nil
}

func (t *LogTransport) log(to string, p Payload) RawResult {
	id := "log-" + uuid.NewString()
	t.logger.Info("outbound message (log transport)", "to", to, "kind", p.Kind(), "message_id", id, "body", p.Summary())
	return RawResult{MessageID: id, StatusCode: 200}
}
