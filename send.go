package magpie

import (
	"context"
	"log/slog"
	"time"
)

// SendAll submits a batch of messages over a single session.
//
// The returned report always contains exactly one outcome per request, in
// request order, regardless of how the batch ends. Messages are submitted
// sequentially; a message-level failure (bad envelope, unencodable
// content, server rejection) is recorded in that message's outcome and
// the batch continues. A session-fatal fault (connection loss, protocol
// desync, failed session setup) marks the affected message and every
// later one as not attempted and is recorded as the report's Fault.
//
// The error return mirrors the report's Fault: it is nil when every
// message got a fair attempt, even if some were rejected. The report is
// never nil.
func SendAll(ctx context.Context, config Config, requests []*Request) (*BatchReport, error) {
	config = config.withDefaults()
	log := config.Logger.With(slog.String("server", config.Address()))

	report := newBatchReport(config.Address())
	report.Outcomes = make([]*Outcome, len(requests))
	defer func() {
		report.FinishedAt = time.Now()
		if config.Metrics != nil {
			config.Metrics.observeBatch(report)
		}
		log.Info("batch finished",
			slog.String("batch_id", report.ID),
			slog.Int("messages", len(requests)),
			slog.Int("succeeded", report.Succeeded()),
			slog.Int("failed", report.Failed()),
			slog.Int("not_attempted", report.NotAttempted()))
	}()

	session, err := Open(ctx, config)
	if err != nil {
		log.Error("session setup failed", slog.Any("error", err))
		markNotAttempted(report.Outcomes, 0)
		report.Fault = err
		return report, err
	}
	defer session.Close()

	encCtx := session.EncodingContext()

	for i, req := range requests {
		if err := ctx.Err(); err != nil {
			markNotAttempted(report.Outcomes, i)
			report.Fault = err
			return report, err
		}

		outcome, err := attempt(session, req, encCtx)
		if err != nil {
			// Session-fatal: nothing after this message can be tried.
			log.Error("session failed mid-batch",
				slog.Int("message_index", i),
				slog.Any("error", err))
			markNotAttempted(report.Outcomes, i)
			report.Fault = err
			return report, err
		}
		report.Outcomes[i] = outcome
	}

	if err := session.Quit(); err != nil {
		// The batch already completed; a failed QUIT is only logged.
		log.Debug("quit failed", slog.Any("error", err))
	}
	return report, nil
}

// attempt resolves, encodes and submits one request. Resolution and
// encoding failures are message-level and land in the outcome; a non-nil
// error means the session itself failed.
func attempt(session *Session, req *Request, encCtx EncodingContext) (*Outcome, error) {
	env, err := req.Resolve()
	if err != nil {
		return &Outcome{Err: err}, nil
	}
	enc, err := Encode(req.Message, encCtx)
	if err != nil {
		return &Outcome{Err: err}, nil
	}
	return session.Submit(env, enc)
}

// markNotAttempted fills every nil outcome slot from index on.
func markNotAttempted(outcomes []*Outcome, from int) {
	for i := from; i < len(outcomes); i++ {
		if outcomes[i] == nil {
			outcomes[i] = &Outcome{NotAttempted: true, Err: ErrNotAttempted}
		}
	}
}

// Send submits a single message over a fresh session and returns its
// outcome. The error return is non-nil for session-level faults; a
// server rejection of the message is reported inside the outcome.
func Send(ctx context.Context, config Config, req *Request) (*Outcome, error) {
	report, err := SendAll(ctx, config, []*Request{req})
	if err != nil {
		return report.Outcomes[0], err
	}
	return report.Outcomes[0], nil
}
