package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/totegamma/pairdata/internal/domain"
)

const pairingChannelPrefix = "pairdata:asset:"

type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

// PairingChannel is the pub/sub channel carrying pairing changes of an asset.
func PairingChannel(assetUID string) string {
	return pairingChannelPrefix + assetUID
}

func (s *SignalService) Publish(ctx context.Context, channel string, event any) error {

	jsonstr, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = s.rdb.Publish(ctx, channel, jsonstr).Err()
	if err != nil {
		return err

	}

	return nil
}

// PublishPairing announces a pairing change so consumers can drop cached form media.
func (s *SignalService) PublishPairing(ctx context.Context, event domain.PairingEvent) error {
	return s.Publish(ctx, PairingChannel(event.AssetUID), event)
}

// Realtime relays pairing events of the assets last received on input.
// The returned channel is closed once ctx is done or input is closed.
func (s *SignalService) Realtime(ctx context.Context, input <-chan []string) <-chan domain.PairingEvent {
	output := make(chan domain.PairingEvent)

	go func() {
		defer close(output)

		pubsub := s.rdb.Subscribe(ctx)
		defer pubsub.Close()
		messages := pubsub.Channel()

		var current []string
		for {
			select {
			case <-ctx.Done():
				return
			case assets, ok := <-input:
				if !ok {
					return
				}
				next := make([]string, 0, len(assets))
				for _, asset := range assets {
					if asset == "" {
						continue
					}
					channel := PairingChannel(asset)
					if !slices.Contains(next, channel) {
						next = append(next, channel)
					}
				}

				var stale []string
				for _, channel := range current {
					if !slices.Contains(next, channel) {
						stale = append(stale, channel)
					}
				}
				if len(stale) > 0 {
					if err := pubsub.Unsubscribe(ctx, stale...); err != nil {
						slog.WarnContext(ctx, "failed to unsubscribe", slog.String("error", err.Error()), slog.String("module", "signal"))
					}
				}
				if len(next) > 0 {
					if err := pubsub.Subscribe(ctx, next...); err != nil {
						slog.WarnContext(ctx, "failed to subscribe", slog.String("error", err.Error()), slog.String("module", "signal"))
					}
				}
				current = next
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if !strings.HasPrefix(msg.Channel, pairingChannelPrefix) {
					continue
				}
				var event domain.PairingEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					slog.WarnContext(ctx, "malformed pairing signal", slog.String("channel", msg.Channel), slog.String("module", "signal"))
					continue
				}
				select {
				case output <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return output
}
