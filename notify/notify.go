// Package notify delivers finished digests to an agent's owner.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/ticketbooth/digest"
)

// Notifier delivers a digest to the owner identified by ownerRef.
type Notifier interface {
	Deliver(ctx context.Context, ownerRef string, v digest.View) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, ownerRef string, v digest.View) error

// Deliver calls f.
func (f Func) Deliver(ctx context.Context, ownerRef string, v digest.View) error {
	return f(ctx, ownerRef, v)
}

// Log is a Notifier that only writes the digest to a logger.
type Log struct {
	Logger *slog.Logger
}

// Deliver logs v and always succeeds.
func (l Log) Deliver(_ context.Context, ownerRef string, v digest.View) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("digest delivered",
		"owner", ownerRef,
		"digest_id", v.ID,
		"ticket_id", v.TicketID,
		"total_cost", v.TotalCost,
	)
	return nil
}

const rule = "========================================"

// FormatMessage renders v as a plain-text message for chat delivery.
func FormatMessage(v digest.View) string {
	var b strings.Builder

	b.WriteString("STREAM DIGEST\n")
	b.WriteString(rule + "\n\n")

	if v.StreamTitle != "" || v.StreamURL != "" {
		fmt.Fprintf(&b, "Stream: %s (%s)\n\n", v.StreamTitle, v.StreamURL)
	}

	summary := v.Summary
	if summary == "" {
		summary = "No summary available"
	}
	fmt.Fprintf(&b, "Summary:\n%s\n\n", summary)

	b.WriteString("Key Insights:\n")
	if len(v.Insights) == 0 {
		b.WriteString("   (none)\n")
	}
	for _, insight := range v.Insights {
		fmt.Fprintf(&b, "   • %s\n", insight)
	}

	sentiment := v.Sentiment
	if sentiment == "" {
		sentiment = digest.SentimentNeutral
	}
	fmt.Fprintf(&b, "\nSentiment: %s\n", strings.ToUpper(sentiment))
	fmt.Fprintf(&b, "Watch Duration: %d minutes\n", v.WatchDurationSeconds/60)
	fmt.Fprintf(&b, "Frames: %d\n", v.FrameCount)
	fmt.Fprintf(&b, "Analysis Cost: %s %s\n", v.AnalysisCost, strings.ToUpper(v.Currency))
	fmt.Fprintf(&b, "Total Cost: %s %s\n\n", v.TotalCost, strings.ToUpper(v.Currency))
	fmt.Fprintf(&b, "Digest ID: %s\n", v.ID)
	fmt.Fprintf(&b, "Agent ID: %s\n\n", v.AgentID)
	b.WriteString(rule + "\n")

	return b.String()
}
