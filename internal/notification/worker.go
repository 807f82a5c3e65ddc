package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"radio-recorder-backend/internal/logging"
	"radio-recorder-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool fans out recording-outcome notifications. Jobs carry the id of
// a history row that just reached a terminal status.
type WorkerPool struct {
	size    int
	jobs    chan int64
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
	log     zerolog.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan int64, size),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     logging.WithComponent("notification"),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug().Int("worker", id).Msg("worker started")
	for {
		select {
		case historyID := <-wp.jobs:
			wp.sendForHistory(ctx, historyID)
		case <-ctx.Done():
			wp.log.Debug().Int("worker", id).Msg("worker shutting down")
			return
		}
	}
}

// Dispatch sends a job to the worker pool without blocking the caller.
func (wp *WorkerPool) Dispatch(historyID int64) {
	select {
	case wp.jobs <- historyID:
	default:
		wp.log.Warn().Int64("history", historyID).Msg("notification queue full, dropping job")
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan int64 {
	return wp.jobs
}

// sendForHistory notifies every subscriber about one finished recording.
func (wp *WorkerPool) sendForHistory(ctx context.Context, historyID int64) {
	var history model.RecordingHistory
	if err := wp.db.WithContext(ctx).First(&history, historyID).Error; err != nil {
		wp.log.Error().Err(err).Int64("history", historyID).Msg("failed to load history record")
		return
	}

	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		wp.log.Error().Err(err).Msg("failed to load subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	var message string
	switch history.Status {
	case model.StatusCompleted:
		message = fmt.Sprintf("録音が完了しました: %s", history.Title)
	case model.StatusStopped:
		message = fmt.Sprintf("録音を停止しました: %s", history.Title)
	default:
		message = fmt.Sprintf("録音に失敗しました: %s", history.Title)
	}

	wp.log.Info().Int64("history", historyID).Int("subscribers", len(subscriptions)).
		Msg("sending recording notifications")
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to send notification")
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		wp.log.Info().Str("endpoint", sub.Endpoint).Msg("subscription expired, deleting")
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
	}
}
