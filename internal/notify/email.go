package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/wolfman30/support-hitl/pkg/logging"
)

const (
	defaultFromName = "Support Review"
	reviewCategory  = "approval-review"
)

// Notice is one review notification addressed to every reviewer at once.
type Notice struct {
	Recipients []string
	Subject    string
	Text       string
	HTML       string
	ApprovalID string
	Kind       string
}

// EmailSender delivers a notice. SES, SendGrid and a logging stub implement it.
type EmailSender interface {
	Deliver(ctx context.Context, n Notice) error
}

// DeliveryError lists the recipients a notice did not reach.
type DeliveryError struct {
	ApprovalID string
	Failed     map[string]error
}

func (e *DeliveryError) Error() string {
	addrs := make([]string, 0, len(e.Failed))
	for addr := range e.Failed {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	parts := make([]string, len(addrs))
	for i, addr := range addrs {
		parts[i] = fmt.Sprintf("%s: %v", addr, e.Failed[addr])
	}
	return fmt.Sprintf("notify: approval %s not delivered to %s", e.ApprovalID, strings.Join(parts, "; "))
}

func (e *DeliveryError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}

// Unreached reports which recipients failed, or nil when err is not a DeliveryError.
func Unreached(err error) []string {
	var de *DeliveryError
	if !errors.As(err, &de) {
		return nil
	}
	out := make([]string, 0, len(de.Failed))
	for addr := range de.Failed {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

var errNoRecipients = errors.New("notify: notice has no recipients")

// StubEmailSender only logs notices; used when email is disabled.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Deliver(_ context.Context, n Notice) error {
	s.logger.Info("email disabled, review notice not sent",
		"approval_id", n.ApprovalID,
		"recipients", len(n.Recipients),
		"subject", n.Subject,
	)
	return nil
}
