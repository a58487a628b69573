package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/MedGateAI/medgate-engine/engine/domain"
	"github.com/MedGateAI/medgate-engine/pkg/fn"
	"github.com/MedGateAI/medgate-engine/pkg/natsutil"
)

// DefaultSubject is where decision entries are published.
const DefaultSubject = "medgate.decisions"

// publishFunc abstracts natsutil.Publish for tests.
type publishFunc func(ctx context.Context, subject string, e Entry) error

// NATSSink publishes each decision as an Entry on a NATS subject. Transient
// publish failures are retried with backoff.
type NATSSink struct {
	subject string
	publish publishFunc
	retry   fn.RetryOpts
}

// NewNATSSink creates a sink publishing on subject via nc.
func NewNATSSink(nc *nats.Conn, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{
		subject: subject,
		publish: func(ctx context.Context, subject string, e Entry) error {
			return natsutil.Publish(ctx, nc, subject, e)
		},
		retry: fn.RetryOpts{MaxAttempts: 3, InitialWait: 100 * time.Millisecond, MaxWait: time.Second, Jitter: true},
	}
}

// newNATSSinkWithPublish wires an explicit publish function; used by tests.
func newNATSSinkWithPublish(subject string, publish publishFunc) *NATSSink {
	return &NATSSink{
		subject: subject,
		publish: publish,
		retry:   fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 10 * time.Millisecond},
	}
}

// Record assigns an audit id and publishes the entry. The id is returned
// even though delivery is asynchronous downstream.
func (s *NATSSink) Record(ctx context.Context, res domain.DecisionResult) (string, error) {
	id := uuid.New().String()
	res.AuditID = id
	entry := Entry{
		AuditID:  id,
		LoggedAt: time.Now().UTC(),
		Version:  recordVersion,
		Result:   res,
	}

	result := fn.Retry(ctx, s.retry, func(ctx context.Context) fn.Result[string] {
		if err := s.publish(ctx, s.subject, entry); err != nil {
			return fn.Err[string](err)
		}
		return fn.Ok(id)
	})
	if _, err := result.Unwrap(); err != nil {
		return "", fmt.Errorf("audit: publish to %s: %w", s.subject, err)
	}
	return id, nil
}
