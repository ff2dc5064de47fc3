package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/gateway/memory"
	"github.com/MrEthical07/goSession/gateway/push"
)

const demoSecret = "password123"

func await(ctx context.Context, ch <-chan goSession.Outcome) (goSession.Outcome, error) {
	select {
	case out := <-ch:
		return out, nil
	case <-ctx.Done():
		return goSession.Outcome{}, ctx.Err()
	}
}

func step(ctx context.Context, log *zap.Logger, name string, ch <-chan goSession.Outcome) (goSession.Outcome, error) {
	started := time.Now()
	out, err := await(ctx, ch)
	if err != nil {
		return out, err
	}
	fields := []zap.Field{
		zap.Stringer("state", out.State),
		zap.Duration("took", time.Since(started)),
	}
	if out.Session != nil {
		fields = append(fields,
			zap.String("subject", out.Session.Identity.SubjectID),
			zap.String("role", out.Session.Identity.Role),
			zap.String("display_name", out.Session.Identity.DisplayName))
	}
	if out.Err != nil {
		fields = append(fields, zap.Error(out.Err))
	}
	if out.ProfileErr != nil {
		fields = append(fields, zap.NamedError("profile_error", out.ProfileErr))
	}
	log.Info(name, fields...)
	return out, nil
}

func scenario(ctx context.Context, m *goSession.Manager, mem *memory.Gateway, source *push.RedisSource, log *zap.Logger) error {
	log = log.Named("scenario")
	users := memory.DemoUsers()
	patient, hospital := users[0].Email, users[1].Email

	if _, err := step(ctx, log, "patient login", m.Login(ctx, patient, demoSecret)); err != nil {
		return err
	}
	if _, err := step(ctx, log, "logout", m.Logout(ctx)); err != nil {
		return err
	}

	// The institutional portal rejects a patient account.
	if _, err := step(ctx, log, "patient at institutional entry", m.LoginAs(ctx, goSession.EntryInstitutional, patient, demoSecret)); err != nil {
		return err
	}

	out, err := step(ctx, log, "institutional login", m.LoginAs(ctx, goSession.EntryInstitutional, hospital, demoSecret))
	if err != nil {
		return err
	}
	if out.State != goSession.StateOtpPending {
		return fmt.Errorf("institutional login ended in %s", out.State)
	}
	if status, ok := m.OtpStatus(); ok {
		log.Info("otp challenge",
			zap.String("id", status.ID),
			zap.Int("length", status.Length),
			zap.Int("cooldown_remaining", status.CooldownRemaining))
	}
	code, ok := mem.LastCode(hospital)
	if !ok {
		return fmt.Errorf("no code delivered to %s", hospital)
	}
	if _, err := step(ctx, log, "submit otp", m.SubmitOtp(ctx, code)); err != nil {
		return err
	}

	seq, err := source.Publish(ctx, gateway.PushEvent{Kind: gateway.PushSignedOut})
	if err != nil {
		return err
	}
	log.Info("published provider sign-out", zap.Uint64("seq", seq))
	return waitFor(ctx, m, goSession.StateAnonymous)
}

func waitFor(ctx context.Context, m *goSession.Manager, want goSession.State) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for m.State() != want {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", want, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
