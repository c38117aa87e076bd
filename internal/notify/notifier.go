// Package notify forwards operator alerts to chat channels. Events can be
// filtered so operators only hear about what they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// Event types.
const (
	EventSubmitted = "submitted"
	EventIncluded  = "included"
	EventFatal     = "fatal"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a notification out to every Sender.
type Notifier struct {
	senders     []Sender
	events      map[string]bool
	explorerURL string
	logger      *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
// explorerURL, when set, is used to link transactions.
func NewNotifier(senders []Sender, events []string, explorerURL string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:     senders,
		events:      allowed,
		explorerURL: strings.TrimRight(explorerURL, "/"),
		logger:      logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers to all senders if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		return nil
	}
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed", slog.String("sender", s.Name()), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// NotifySubmission reports a submission record. Included records go out as
// EventIncluded, everything else as EventSubmitted.
func (n *Notifier) NotifySubmission(ctx context.Context, rec domain.SubmissionRecord) error {
	event := EventSubmitted
	if rec.State == domain.SubmissionIncluded {
		event = EventIncluded
	}
	title := fmt.Sprintf("%s %s at block %d", rec.Strategy, rec.State, rec.Height)

	var b strings.Builder
	fmt.Fprintf(&b, "tx %s nonce %d", rec.TxHash.Hex(), rec.Nonce)
	if rec.TargetHeight != 0 {
		fmt.Fprintf(&b, "\ntarget %d", rec.TargetHeight)
	}
	if rec.IncludedIn != 0 {
		fmt.Fprintf(&b, "\nincluded in %d", rec.IncludedIn)
	}
	if rec.Reason != "" {
		fmt.Fprintf(&b, "\nreason: %s", rec.Reason)
	}
	if n.explorerURL != "" {
		fmt.Fprintf(&b, "\n%s/tx/%s", n.explorerURL, rec.TxHash.Hex())
	}
	return n.Notify(ctx, event, title, b.String())
}

// NotifyFatal reports the error that stopped the engine.
func (n *Notifier) NotifyFatal(ctx context.Context, height domain.ChainHeight, err error) error {
	return n.Notify(ctx, EventFatal, fmt.Sprintf("engine stopped at block %d", height), err.Error())
}
