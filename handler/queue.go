package handler

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/Anson-y-chang/stream.io/dto"
	"github.com/Anson-y-chang/stream.io/repository"
	"github.com/Anson-y-chang/stream.io/service"
)

type ServiceDependencies struct {
	Repo         repository.JobRepository
	Orchestrator *service.Orchestrator
}

// JobHandler consumes transcode requests published by the ingestion
// backend. Delivery is at-least-once; the message's job id makes re-runs
// idempotent — a redelivered job that already exists is acked and skipped.
func JobHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var message dto.JobMessage
	if err := json.Unmarshal(msg.Body, &message); err != nil {
		return err
	}

	if _, err := deps.Repo.FindJobById(ctx, message.JobId.String()); err == nil {
		zerolog.Ctx(ctx).Info().Str("job_id", message.JobId.String()).Msg("job already submitted")
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	_, err := deps.Orchestrator.SubmitWithId(ctx, message.JobId, dto.SubmitJobRequest{
		SourcePath:  message.SourcePath,
		Title:       message.Title,
		Description: message.Description,
		Qualities:   message.Qualities,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("job_id", message.JobId.String()).Msg("failed to submit job")
		return err
	}

	return nil
}
