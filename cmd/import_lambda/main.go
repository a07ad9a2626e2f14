package main

import (
	"context"
	"errors"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"hk-cultural-events/internal/config"
	"hk-cultural-events/internal/logging"
	"hk-cultural-events/internal/models"
	"hk-cultural-events/internal/services"
)

// handler runs imports in process
type handler struct {
	runner services.Runner
}

// triggerType maps the invocation to a trigger label. EventBridge schedule
// events carry detail-type "Scheduled Event".
func triggerType(event models.ImportInvocation) string {
	switch {
	case event.TriggerType != "":
		return event.TriggerType
	case event.DetailType == "Scheduled Event" || event.Source == "aws.events":
		return models.TriggerTypeScheduled
	default:
		return models.TriggerTypeManual
	}
}

// handleRequest runs one import. Failures are reported in the result rather
// than as a function error so that callers can tell a busy lock apart from
// a failed import.
func (h *handler) handleRequest(ctx context.Context, event models.ImportInvocation) (models.ImportResult, error) {
	trigger := triggerType(event)
	logging.Info().Str("trigger", trigger).Str("source", event.Source).Msg("Import invocation received")

	summary, err := h.runner.Run(ctx, trigger)
	switch {
	case errors.Is(err, services.ErrImportInProgress):
		return models.ImportResult{Success: false, Message: err.Error()}, nil
	case err != nil:
		return models.ImportResult{Success: false, Message: err.Error(), Summary: summary}, nil
	}

	return models.ImportResult{
		Success: true,
		Message: "Data imported successfully",
		Summary: summary,
	}, nil
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	stack, err := services.NewStack(context.Background(), cfg, services.StackOptions{})
	if err != nil {
		logging.Error().Err(err).Msg("Failed to initialise services")
		os.Exit(1)
	}

	h := &handler{runner: stack.Importer}
	lambda.Start(h.handleRequest)
}
