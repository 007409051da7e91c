package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/voicedesk/assistant/backend/internal/metrics"
	"github.com/voicedesk/assistant/backend/internal/model/speech"
	"github.com/voicedesk/assistant/backend/internal/service/conversation"
	speechsvc "github.com/voicedesk/assistant/backend/internal/service/speech"
)

// processAudio runs decode, transcribe, contextualize, generate and persist
// for one audio message and returns the reply to send.
//
// A transcription reply carrying an llm_response is only returned after the
// turn has been appended.
func (c *Controller) processAudio(sess *Session, msg speech.AudioData) any {
	start := time.Now()
	ctx, cancel := context.WithTimeout(sess.ctx, c.cfg.PipelineTimeout)
	defer cancel()

	reply, outcome := c.runPipeline(ctx, sess, msg)
	c.deps.Metrics.PipelineFinished(outcome, time.Since(start))
	return reply
}

func (c *Controller) runPipeline(ctx context.Context, sess *Session, msg speech.AudioData) (any, string) {
	log := sess.log()
	identity := sess.Identity()

	wav, err := c.deps.Decoder.Decode(ctx, msg.Payload)
	if err != nil {
		log.Warn("audio decode failed", slog.Any("error", err))
		return speech.NewStageError(speech.StageDecode), metrics.PipelineDecodeError
	}

	outcome := c.deps.Transcriber.Transcribe(ctx, wav)
	switch outcome.Kind {
	case speechsvc.OutcomeFailure:
		log.Error("transcription failed", slog.Any("error", outcome.Err))
		return speech.NewStageError(speech.StageTranscription), metrics.PipelineTranscribeError
	case speechsvc.OutcomeNoSpeech:
		return speech.NewNoSpeech(msg.Timestamp), metrics.PipelineNoSpeech
	}
	text := outcome.Text

	recent, err := c.deps.Store.Recent(ctx, identity, c.cfg.HistoryLimit)
	if err != nil {
		log.Error("load history failed", slog.Any("error", err))
		return speech.NewStageError(speech.StagePersistence), metrics.PipelinePersistenceError
	}
	history := conversation.Chronological(recent)

	reply, err := c.deps.Generator.Generate(ctx, text, history, &identity)
	if err != nil {
		log.Error("response generation failed", slog.Any("error", err))
		return speech.NewStageError(speech.StageGeneration), metrics.PipelineGenerateError
	}

	turn, err := c.deps.Store.Append(ctx, identity, text, reply)
	if err != nil {
		log.Error("persist turn failed", slog.Any("error", err))
		return speech.NewStageError(speech.StagePersistence), metrics.PipelinePersistenceError
	}

	log.Info("turn completed",
		slog.Int64("turn_id", turn.ID),
		slog.Int("history", len(history)),
		slog.Int("text_len", len(text)),
		slog.Int("reply_len", len(reply)),
	)
	return speech.NewTranscription(text, reply, msg.Timestamp), metrics.PipelineOK
}
