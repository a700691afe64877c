package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/discipline-portal-api/internal/models"
	"github.com/noah-isme/discipline-portal-api/pkg/jobs"
	"github.com/noah-isme/discipline-portal-api/pkg/mail"
)

// FollowUpMailJob is the job type that delivers follow-up notifications.
const FollowUpMailJob = "follow_up_mail"

// NotificationService tells the committee's follow-up recipients about approved requests
// whose action failed. Delivery happens on the mail queue and never blocks a decision.
type NotificationService struct {
	sender     mail.Sender
	queue      *jobs.Queue
	recipients []string
	logger     *zap.Logger
}

// NewNotificationService constructs the service and registers its job handler on queue.
func NewNotificationService(sender mail.Sender, queue *jobs.Queue, recipients []string, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{sender: sender, queue: queue, recipients: recipients, logger: logger}
	if queue != nil {
		queue.Handle(FollowUpMailJob, svc.deliver)
	}
	return svc
}

// MaterializationFailed enqueues a follow-up mail. Enqueue failures are logged only.
func (s *NotificationService) MaterializationFailed(ctx context.Context, req models.ApprovalRequest, reason string) {
	if s == nil || s.queue == nil || s.sender == nil || len(s.recipients) == 0 {
		return
	}
	msg := mail.Message{
		To:      s.recipients,
		Subject: fmt.Sprintf("Approved %s request %s needs follow-up", req.RequestType, req.ID),
		Text:    followUpBody(req, reason),
	}
	if err := s.queue.TryEnqueue(jobs.Job{ID: req.ID, Type: FollowUpMailJob, Payload: msg}); err != nil {
		s.logger.Warn("follow-up notification not queued", zap.String("request_id", req.ID), zap.Error(err))
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mail.Message)
	if !ok {
		return fmt.Errorf("unexpected follow-up payload %T", job.Payload)
	}
	return s.sender.Send(ctx, msg)
}

func followUpBody(req models.ApprovalRequest, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request %s (%s) was approved", req.ID, req.RequestType)
	if req.ReviewedBy != nil {
		fmt.Fprintf(&b, " by %s", *req.ReviewedBy)
	}
	b.WriteString(" but its action could not be completed.\n\n")
	fmt.Fprintf(&b, "Reason: %s\n", reason)
	fmt.Fprintf(&b, "Attempts so far: %d\n\n", req.MaterializationAttempts)
	b.WriteString("A super admin can retry it from the approval requests screen once the cause is fixed.\n")
	return b.String()
}
