package ticketbooth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/ticketbooth/analyzer"
	"github.com/xraph/ticketbooth/digest"
	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/pricing"
	"github.com/xraph/ticketbooth/ticket"
	"github.com/xraph/ticketbooth/types"
)

// redeliverBatch bounds how many undelivered digests one sweep retries.
const redeliverBatch = 500

// analysisConcurrency bounds concurrent analyzer calls per session.
const analysisConcurrency = 4

var errNoNotifier = errors.New("no notifier configured")

// Analysis is one analyzer result and what it cost.
type Analysis struct {
	analyzer.Result
	Cost types.Money `json:"cost"`
}

// DigestInput carries caller-provided and analyzer-provided digest content.
// Explicit fields win over values derived from Analyses.
type DigestInput struct {
	Summary      string      `json:"summary,omitempty"`
	Insights     []string    `json:"insights,omitempty"`
	Sentiment    string      `json:"sentiment,omitempty"`
	AnalysisCost types.Money `json:"analysis_cost"`
	Analyses     []Analysis  `json:"analyses,omitempty"`
	// WatchDuration overrides the duration derived from the ticket.
	WatchDuration time.Duration `json:"watch_duration,omitempty"`
}

// analyze scores sampled units with the analyzer. Failed calls are logged
// and left out of the digest.
func (b *Booth) analyze(ctx context.Context, samples []Unit) DigestInput {
	if b.analyzer == nil || len(samples) == 0 {
		return DigestInput{}
	}

	type job struct {
		kind    pricing.Kind
		payload []byte
	}
	var jobs []job
	for _, u := range samples {
		seen := make(map[pricing.Kind]bool, len(u.Kinds))
		for _, k := range u.Kinds {
			if seen[k] {
				continue
			}
			seen[k] = true
			jobs = append(jobs, job{kind: k, payload: u.Payload})
		}
	}

	results := make([]*Analysis, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(analysisConcurrency)
	for i, j := range jobs {
		g.Go(func() error {
			cctx, cancel := b.callCtx(gctx)
			defer cancel()

			res, cost, err := b.analyzer.Score(cctx, j.kind, j.payload)
			if err != nil {
				b.logger.Warn("content analysis failed",
					"kind", string(j.kind),
					"error", err,
				)
				return nil
			}
			if res == nil {
				res = &analyzer.Result{Kind: j.kind}
			}
			results[i] = &Analysis{Result: *res, Cost: cost}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	var in DigestInput
	for _, r := range results {
		if r != nil {
			in.Analyses = append(in.Analyses, *r)
		}
	}
	return in
}

// ──────────────────────────────────────────────────
// Assembly
// ──────────────────────────────────────────────────

// Assemble builds, persists and delivers the digest for a finished ticket.
// A ticket gets at most one digest. Delivery failures are logged and leave
// the digest undelivered; they never fail the call.
func (b *Booth) Assemble(ctx context.Context, ticketID id.TicketID, sum SessionSummary, in DigestInput) (*digest.Digest, error) {
	t, err := b.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	currency := sum.CumulativeCost.Currency
	if currency == "" {
		currency = t.Amount.Currency
	}
	metered, err := inCurrency(sum.CumulativeCost, currency, "metered_cost")
	if err != nil {
		return nil, err
	}
	analysisCost, err := inCurrency(in.AnalysisCost, currency, "analysis_cost")
	if err != nil {
		return nil, err
	}
	for _, a := range in.Analyses {
		c, err := inCurrency(a.Cost, currency, "analyses.cost")
		if err != nil {
			return nil, err
		}
		analysisCost = analysisCost.Add(c)
	}

	duration := sum.Duration
	if in.WatchDuration > 0 {
		duration = in.WatchDuration
	}

	d := &digest.Digest{
		Entity:        b.newEntity(),
		ID:            id.NewDigestID(),
		TicketID:      t.ID,
		AgentID:       t.AgentID,
		StreamURL:     t.StreamURL,
		StreamTitle:   t.StreamTitle,
		Summary:       summarize(in, sum),
		Insights:      mergeInsights(in),
		Sentiment:     pickSentiment(in),
		WatchDuration: duration,
		FrameCount:    sum.FrameCount,
		MeteredCost:   metered,
		AnalysisCost:  analysisCost,
		TotalCost:     metered.Add(analysisCost),
	}

	if err := b.store.CreateDigest(ctx, d); err != nil {
		return nil, err
	}
	b.plugins.EmitDigestCreated(ctx, d)

	b.logger.Info("digest created",
		"digest_id", d.ID.String(),
		"ticket_id", d.TicketID.String(),
		"total_cost", d.TotalCost.String(),
	)

	if err := b.deliver(ctx, d); err != nil && !errors.Is(err, ErrNoOwner) {
		b.logger.Warn("digest delivery failed",
			"digest_id", d.ID.String(),
			"error", err,
		)
	}
	return d, nil
}

// CreateDigest assembles a digest from caller-provided content. Metering
// figures come from the ticket's stored counters, so the ticket must be
// completed or expired; an active ticket returns ErrWatchUnfinished.
func (b *Booth) CreateDigest(ctx context.Context, ticketID id.TicketID, in DigestInput) (*digest.Digest, error) {
	t, err := b.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	switch t.PaymentStatus {
	case ticket.PaymentPending:
		return nil, fmt.Errorf("%w: %w", ErrTicketNotActive, ErrPaymentPending)
	case ticket.PaymentFailed:
		return nil, fmt.Errorf("%w: %w", ErrTicketNotActive, ErrPaymentFailed)
	}
	switch t.Status {
	case ticket.StatusCompleted, ticket.StatusExpired:
	default:
		return nil, fmt.Errorf("%w: ticket is %s", ErrWatchUnfinished, t.Status)
	}

	sum := SessionSummary{
		TicketID:       t.ID,
		AgentID:        t.AgentID,
		FrameCount:     t.FrameCount,
		CumulativeCost: t.MeteredCost,
	}
	if t.WatchStartedAt != nil {
		sum.StartedAt = *t.WatchStartedAt
		if t.CompletedAt != nil {
			sum.EndedAt = *t.CompletedAt
			sum.Duration = sum.EndedAt.Sub(sum.StartedAt)
		}
	}
	return b.Assemble(ctx, ticketID, sum, in)
}

// GetDigest retrieves a digest by ID.
func (b *Booth) GetDigest(ctx context.Context, digestID id.DigestID) (*digest.Digest, error) {
	return b.store.GetDigest(ctx, digestID)
}

// GetDigestByTicket retrieves the digest of a ticket.
func (b *Booth) GetDigestByTicket(ctx context.Context, ticketID id.TicketID) (*digest.Digest, error) {
	return b.store.GetDigestByTicket(ctx, ticketID)
}

// RedeliverDigest retries owner delivery of an undelivered digest.
// Delivered digests are returned unchanged.
func (b *Booth) RedeliverDigest(ctx context.Context, digestID id.DigestID) (*digest.Digest, error) {
	d, err := b.store.GetDigest(ctx, digestID)
	if err != nil {
		return nil, err
	}
	if d.SentToOwner {
		return d, nil
	}
	if err := b.deliver(ctx, d); err != nil {
		return d, err
	}
	return d, nil
}

// RedeliverPending retries delivery of undelivered digests whose agent has
// an owner and returns how many were delivered.
func (b *Booth) RedeliverPending(ctx context.Context) (int, error) {
	if b.notifier == nil {
		return 0, nil
	}
	pending, err := b.store.ListUndeliveredDigests(ctx, redeliverBatch)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, d := range pending {
		if err := b.deliver(ctx, d); err != nil {
			if !errors.Is(err, ErrNoOwner) {
				b.logger.Debug("digest redelivery failed",
					"digest_id", d.ID.String(),
					"error", err,
				)
			}
			continue
		}
		delivered++
	}
	return delivered, nil
}

// deliver notifies the agent's owner and records delivery on d.
func (b *Booth) deliver(ctx context.Context, d *digest.Digest) error {
	a, err := b.store.GetAgent(ctx, d.AgentID)
	if err != nil {
		return err
	}
	if !a.HasOwner() {
		return ErrNoOwner
	}
	if b.notifier == nil {
		return upstream("deliver digest", errNoNotifier)
	}

	cctx, cancel := b.callCtx(ctx)
	err = b.notifier.Deliver(cctx, a.OwnerRef, d.View())
	cancel()
	if err != nil {
		b.plugins.EmitDigestDeliveryFailed(ctx, d, err)
		return upstream("deliver digest", err)
	}

	now := b.now()
	if err := b.store.MarkDigestDelivered(ctx, d.ID, now); err != nil {
		if errors.Is(err, ErrTransitionConflict) {
			return nil
		}
		return err
	}
	d.SentToOwner = true
	d.SentAt = &now

	b.plugins.EmitDigestDelivered(ctx, d)
	b.logger.Info("digest delivered",
		"digest_id", d.ID.String(),
		"agent_id", d.AgentID,
	)
	return nil
}

// ──────────────────────────────────────────────────
// Content derivation
// ──────────────────────────────────────────────────

func summarize(in DigestInput, sum SessionSummary) string {
	if s := strings.TrimSpace(in.Summary); s != "" {
		return s
	}

	var parts []string
	for _, a := range in.Analyses {
		if d := strings.TrimSpace(a.Description); d != "" {
			parts = append(parts, d)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}

	return fmt.Sprintf("Watched %d frames over %s for %s.",
		sum.FrameCount, sum.Duration.Round(time.Second), sum.CumulativeCost.String())
}

func mergeInsights(in DigestInput) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(in.Insights))
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	for _, s := range in.Insights {
		add(s)
	}
	for _, a := range in.Analyses {
		for _, s := range a.Insights {
			add(s)
		}
	}
	return out
}

func pickSentiment(in DigestInput) string {
	if s := strings.ToLower(strings.TrimSpace(in.Sentiment)); s != "" {
		return s
	}

	counts := make(map[string]int)
	best, bestCount := "", 0
	for _, a := range in.Analyses {
		s := strings.ToLower(strings.TrimSpace(a.Sentiment))
		if s == "" {
			continue
		}
		counts[s]++
		// Ties go to the sentiment seen first.
		if counts[s] > bestCount {
			best, bestCount = s, counts[s]
		}
	}
	if best == "" {
		return digest.SentimentNeutral
	}
	return best
}

// inCurrency normalises m to currency. A zero value with no currency is
// treated as zero in currency.
func inCurrency(m types.Money, currency, field string) (types.Money, error) {
	if m.Currency == "" {
		m.Currency = currency
	}
	m.Currency = strings.ToLower(m.Currency)
	if m.Currency != currency {
		return types.Money{}, ValidationError{Field: field, Message: fmt.Sprintf("currency %s does not match %s", m.Currency, currency)}
	}
	if m.IsNegative() {
		return types.Money{}, ValidationError{Field: field, Message: "must not be negative"}
	}
	return m, nil
}
