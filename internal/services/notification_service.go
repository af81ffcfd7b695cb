package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"noisemap/internal/domain/entities"
	"noisemap/internal/events"
	"noisemap/internal/logging"
	"noisemap/internal/metrics"
	"noisemap/pkg/utils"
)

// NotificationService tells the outside world about newly earned
// achievements: a log line per award and, when a broker is configured, an
// AchievementAwarded event. Delivery is best effort and never fails the
// reading that triggered it.
type NotificationService struct {
	publisher events.Publisher
	timeout   time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

func NewNotificationService(publisher events.Publisher, timeout time.Duration) *NotificationService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &NotificationService{
		publisher: publisher,
		timeout:   timeout,
		log:       logging.Component("notifications"),
		now:       time.Now,
	}
}

// NotifyAchievementsEarned logs and publishes one event per achievement. The
// publish outlives a cancelled request, bounded by the service timeout.
func (s *NotificationService) NotifyAchievementsEarned(ctx context.Context, userID, measurementID string, earned []entities.Achievement) {
	if len(earned) == 0 {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	for _, a := range earned {
		s.log.Info().
			Str("user_id", userID).
			Str("title", a.Title).
			Str("measurement_id", measurementID).
			Msg("achievement earned")

		err := s.publisher.PublishAchievement(pubCtx, events.AchievementAwarded{
			EventID:       utils.GenerateID(),
			UserID:        userID,
			Title:         a.Title,
			Description:   a.Description,
			MeasurementID: measurementID,
			AwardedAt:     s.now().UTC(),
		})
		metrics.RecordPublish(err)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Str("title", a.Title).Msg("achievement event not published")
		}
	}
}
