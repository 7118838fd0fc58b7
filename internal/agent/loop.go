package agent

import (
	"context"
	"log/slog"
	"time"

	"Fluxo/internal/bus"
	xerrors "Fluxo/internal/errors"
	"Fluxo/internal/observability/metrics"
	"Fluxo/pkg/logger"
)

// Agent reacts to the data messages of one channel.
type Agent interface {
	Name() string
	Channel() string
	Handle(ctx context.Context, msg bus.Message) error
}

const (
	outcomeOK    = "ok"
	outcomeError = "error"
	outcomePanic = "panic"
)

// Listen subscribes a to its channel and processes messages until ctx ends or
// the subscription is closed. A failing message never stops the loop.
func Listen(ctx context.Context, sub bus.Subscriber, a Agent) error {
	subscription, err := sub.Subscribe(ctx, a.Channel())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeBusFailure, err, "订阅频道失败: "+a.Channel())
	}
	defer subscription.Close()

	log := logger.Named(a.Name())
	log.Info("agent listening", slog.String("channel", a.Channel()))

	for {
		select {
		case <-ctx.Done():
			log.Info("agent stopped", slog.String("reason", ctx.Err().Error()))
			return ctx.Err()
		case msg, ok := <-subscription.Messages():
			if !ok {
				log.Info("subscription closed", slog.String("channel", a.Channel()))
				return nil
			}
			if !msg.IsData() {
				continue
			}
			process(ctx, log, a, msg)
		}
	}
}

func process(ctx context.Context, log *slog.Logger, a Agent, msg bus.Message) {
	started := time.Now()
	err := safeHandle(ctx, a, msg)
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
		if xerrors.CodeOf(err) == xerrors.CodePanic {
			outcome = outcomePanic
		}
		level := slog.LevelWarn
		if xerrors.ShouldAlert(err) {
			level = slog.LevelError
		}
		log.Log(ctx, level, "message processing failed",
			slog.String("agent", a.Name()),
			slog.String("channel", msg.Channel),
			xerrors.CodeAttr(err),
			slog.Int("payload_bytes", len(msg.Payload)),
			slog.Any("error", err),
		)
	}
	metrics.ObserveAgentMessage(a.Name(), outcome, time.Since(started))
}

func safeHandle(ctx context.Context, a Agent, msg bus.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.FromPanic(r)
		}
	}()
	return a.Handle(ctx, msg)
}
