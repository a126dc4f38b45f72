// Package syncworker owns the background half of the sync pipeline: it
// consumes registration-sync messages published by admission and drives
// the reconciler. Sync failures stay inside this worker; they are
// recorded on the event's sheet record and never reach the submitter.
package syncworker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/wb-go/wbf/zlog"

	"festreg/internal/dto"
	"festreg/internal/rabbit"
	"festreg/internal/repo"
	"festreg/internal/syncer"
)

type Reader struct {
	RMQ    *rabbit.Client
	store  repo.Repository
	syncer *syncer.Syncer
	done   chan struct{}
	cancel context.CancelFunc
}

func NewReader(rmq *rabbit.Client, store repo.Repository, s *syncer.Syncer) *Reader {
	return &Reader{
		RMQ:    rmq,
		store:  store,
		syncer: s,
		done:   make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	zlog.Logger.Info().Msg("sheet sync worker started")

	go func() {
		defer close(r.done)

		handler := func(body []byte) error {
			var msg dto.SyncRegistrationMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				// A payload that never parses would requeue forever;
				// drop it with a log instead.
				zlog.Logger.Error().
					Err(err).
					Msgf("dropping malformed sync message: %s", string(body))
				return nil
			}

			zlog.Logger.Info().
				Str("registration_id", msg.RegistrationID).
				Int64("event_id", msg.EventID).
				Msg("received sync message")

			reg, err := r.store.GetRegistrationByRegID(cctx, msg.RegistrationID)
			if err != nil {
				if errors.Is(err, repo.ErrRegistrationNotFound) {
					zlog.Logger.Warn().
						Str("registration_id", msg.RegistrationID).
						Msg("registration vanished before sync, skipping")
					return nil
				}
				zlog.Logger.Error().
					Err(err).
					Str("registration_id", msg.RegistrationID).
					Msg("failed to load registration for sync")
				return err
			}

			// A failed external write is already recorded on the sheet
			// record; acking here leaves retrying to the admin batch sync.
			if err := r.syncer.SyncOne(cctx, msg.EventID, reg); err != nil {
				zlog.Logger.Warn().
					Err(err).
					Str("registration_id", msg.RegistrationID).
					Msg("sheet sync attempt failed")
			}
			return nil
		}

		if err := r.RMQ.Consume(handler); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to start consuming")
			return
		}

		<-cctx.Done()
		zlog.Logger.Info().Msg("sheet sync worker stopped by context")
	}()
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}
