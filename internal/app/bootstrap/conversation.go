package bootstrap

import (
	"fmt"

	"github.com/wolfman30/machinery-leadbot/internal/catalog"
	appconfig "github.com/wolfman30/machinery-leadbot/internal/config"
	"github.com/wolfman30/machinery-leadbot/internal/conversation"
	"github.com/wolfman30/machinery-leadbot/internal/leads"
	"github.com/wolfman30/machinery-leadbot/internal/observability/metrics"
	"github.com/wolfman30/machinery-leadbot/internal/session"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

// ConversationDeps are the collaborators shared by the engine and its converter.
// Archiver and Metrics are optional.
type ConversationDeps struct {
	Sessions session.Store
	Catalog  catalog.Lookup
	Sender   conversation.Sender
	Leads    leads.Repository
	Archiver conversation.TranscriptArchiver
	Metrics  *metrics.ConversationMetrics
}

// BuildEngine assembles the conversation engine from config and deps.
func BuildEngine(cfg *appconfig.Config, deps ConversationDeps, logger *logging.Logger) (*conversation.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.Sessions == nil || deps.Catalog == nil || deps.Sender == nil || deps.Leads == nil {
		return nil, fmt.Errorf("bootstrap: sessions, catalog, sender and leads are required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	converterOpts := []conversation.ConverterOption{
		conversation.WithFollowupDelay(cfg.FollowupDelay),
	}
	if deps.Archiver != nil {
		converterOpts = append(converterOpts, conversation.WithArchiver(deps.Archiver))
	}
	engineOpts := []conversation.EngineOption{
		conversation.WithPageSize(cfg.CatalogPageSize),
		conversation.WithCaptureDeclinedLeads(cfg.CaptureDeclinedLeads),
	}
	if deps.Metrics != nil {
		converterOpts = append(converterOpts, conversation.WithConverterMetrics(deps.Metrics))
		engineOpts = append(engineOpts, conversation.WithEngineMetrics(deps.Metrics))
	}

	converter := conversation.NewConverter(deps.Sessions, deps.Leads, logger, converterOpts...)
	return conversation.NewEngine(deps.Sessions, deps.Catalog, deps.Sender, converter, logger, engineOpts...), nil
}
