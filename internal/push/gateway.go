package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/observability/metrics"
	"github.com/target/fleetpush/internal/observability/statsd"
)

// DefaultMaxAttempts bounds provider calls per target when unset.
const DefaultMaxAttempts = 3

// ErrorCodeUnroutable is recorded for targets whose platform has no provider chain.
const ErrorCodeUnroutable = "UNROUTABLE_PLATFORM"

// AttemptLog is the append-only attempt store the gateway writes to before returning.
type AttemptLog interface {
	Insert(ctx context.Context, attempt *model.PushAttempt) error
}

// Flagger marks a device whose token was reported invalid.
type Flagger interface {
	FlagForReregistration(ctx context.Context, deviceID, reason string) error
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	Providers   []Provider // Required: every provider that routes may name
	Routes      RouteTable // Optional: defaults to DefaultRoutes
	MaxAttempts int        // Optional: provider calls per target, default DefaultMaxAttempts
	Attempts    AttemptLog // Required: push attempt log
	Flagger     Flagger    // Optional: invalid-target handling
	Metrics     statsd.Sink
	Logger      *slog.Logger
	Now         func() time.Time
}

// Gateway routes a message to a device through the platform's provider chain.
type Gateway struct {
	providers   map[string]Provider
	routes      RouteTable
	maxAttempts int
	attempts    AttemptLog
	flagger     Flagger
	metrics     statsd.Sink
	logger      *slog.Logger
	now         func() time.Time
}

// NewGateway validates options and drops route entries that name unconfigured providers.
func NewGateway(opts GatewayOptions) (*Gateway, error) {
	if opts.Attempts == nil {
		return nil, errors.New("AttemptLog is required")
	}
	providers := make(map[string]Provider, len(opts.Providers))
	for _, p := range opts.Providers {
		if p == nil {
			continue
		}
		if _, dup := providers[p.Name()]; dup {
			return nil, fmt.Errorf("provider %s registered twice", p.Name())
		}
		providers[p.Name()] = p
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "push_gateway")

	routes := opts.Routes
	if routes == nil {
		routes = DefaultRoutes()
	}
	routes, dropped := routes.Restrict(providers)
	if len(routes) == 0 {
		return nil, ErrNoRoutes
	}
	if len(dropped) > 0 {
		logger.Warn("route table names unconfigured providers; skipping them", "providers", dropped)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Gateway{
		providers:   providers,
		routes:      routes,
		maxAttempts: maxAttempts,
		attempts:    opts.Attempts,
		flagger:     opts.Flagger,
		metrics:     opts.Metrics,
		logger:      logger,
		now:         now,
	}, nil
}

// Routes returns the effective route table.
func (g *Gateway) Routes() RouteTable { return g.routes.Merge(nil) }

// SupportsBulk reports whether the primary provider for platform batches sends.
func (g *Gateway) SupportsBulk(platform model.Platform) bool {
	chain := g.routes.Chain(platform)
	if len(chain) == 0 {
		return false
	}
	_, ok := g.providers[chain[0]].(BulkSender)
	return ok
}

// Dispatch sends msg to target, falling back along the platform chain on transient errors.
// Every provider call is appended to the attempt log before Dispatch returns. The returned
// attempt is the last one made. A non-nil error reports side-effect failures (attempt log
// or re-registration flag writes) and never means the push itself was not tried.
func (g *Gateway) Dispatch(ctx context.Context, target model.DeviceTarget, msg model.PushMessage) (model.PushAttempt, error) {
	chain := g.routes.Chain(target.Platform)
	if len(chain) == 0 {
		return g.unroutable(ctx, target, msg)
	}
	return g.dispatchFrom(ctx, target, msg, chain, nil)
}

// Dispatched is one target's result from DispatchBulk.
type Dispatched struct {
	Attempt model.PushAttempt
	Err     error
}

// DispatchBulk dispatches msg to every target. Targets whose primary provider is a
// BulkSender share one bulk call for the first hop; fallbacks then continue per target
// exactly as in Dispatch. Results are positional.
func (g *Gateway) DispatchBulk(ctx context.Context, targets []model.DeviceTarget, msg model.PushMessage) []Dispatched {
	out := make([]Dispatched, len(targets))
	groups := map[string][]int{}
	for i, t := range targets {
		chain := g.routes.Chain(t.Platform)
		if len(chain) == 0 {
			out[i].Attempt, out[i].Err = g.unroutable(ctx, t, msg)
			continue
		}
		if _, ok := g.providers[chain[0]].(BulkSender); ok {
			groups[chain[0]] = append(groups[chain[0]], i)
			continue
		}
		out[i].Attempt, out[i].Err = g.dispatchFrom(ctx, t, msg, chain, nil)
	}

	for name, idx := range groups {
		batch := make([]model.DeviceTarget, len(idx))
		for j, i := range idx {
			batch[j] = targets[i]
		}
		start := time.Now()
		results := g.providers[name].(BulkSender).SendBulk(ctx, batch, msg)
		latency := time.Since(start)
		for j, i := range idx {
			res := Result{Err: Transient(name, "BULK_SHORT", 0, "bulk sender returned too few results", nil)}
			if j < len(results) {
				res = results[j]
			}
			first := &sent{res: res, latency: latency}
			out[i].Attempt, out[i].Err = g.dispatchFrom(ctx, batch[j], msg, g.routes.Chain(batch[j].Platform), first)
		}
	}
	return out
}

func (g *Gateway) unroutable(ctx context.Context, target model.DeviceTarget, msg model.PushMessage) (model.PushAttempt, error) {
	attempt := g.newAttempt(target, msg, ProviderNone, 1)
	attempt.Outcome = model.PushOutcomeRejected
	setAttemptError(&attempt, ErrorCodeUnroutable, fmt.Sprintf("no push route for platform %q", target.Platform))
	err := g.record(ctx, target.Platform, &attempt, nil, 0)
	return attempt, err
}

// sent is a provider call already made on the caller's behalf.
type sent struct {
	res     Result
	latency time.Duration
}

// dispatchFrom walks chain. When first is set it stands in for the primary provider call.
func (g *Gateway) dispatchFrom(
	ctx context.Context,
	target model.DeviceTarget,
	msg model.PushMessage,
	chain []string,
	first *sent,
) (model.PushAttempt, error) {
	var (
		last    model.PushAttempt
		sideErr []error
	)
	for i := 0; i < len(chain) && i < g.maxAttempts; i++ {
		name := chain[i]
		attempt := g.newAttempt(target, msg, name, i+1)

		var call sent
		if first != nil && i == 0 {
			call = *first
		} else {
			began := time.Now()
			call.res = g.providers[name].Send(ctx, target, msg)
			call.latency = time.Since(began)
		}
		res := call.res

		attempt.LatencyMS = call.latency.Milliseconds()
		attempt.StatusCode = res.StatusCode
		attempt.Outcome = Outcome(res.Err)
		if res.MessageID != "" {
			id := res.MessageID
			attempt.MessageID = &id
		}
		if res.Err != nil {
			setAttemptError(&attempt, ErrorCode(res.Err), res.Err.Error())
		}
		if err := g.record(ctx, target.Platform, &attempt, res.Err, call.latency); err != nil {
			sideErr = append(sideErr, err)
		}
		last = attempt

		kind := Classify(res.Err)
		if kind == KindInvalidTarget {
			if err := g.flag(ctx, target, name, res.Err); err != nil {
				sideErr = append(sideErr, err)
			}
		}
		if kind != KindTransient || ctx.Err() != nil {
			break
		}
		if i+1 < len(chain) && i+1 < g.maxAttempts {
			g.logger.DebugContext(ctx, "transient push failure, falling back",
				"job_id", msg.JobID,
				"device_id", target.DeviceID,
				"provider", name,
				"next", chain[i+1],
				"error", res.Err,
			)
		}
	}
	return last, errors.Join(sideErr...)
}

func (g *Gateway) newAttempt(target model.DeviceTarget, msg model.PushMessage, provider string, n int) model.PushAttempt {
	return model.PushAttempt{
		ID:           uuid.NewString(),
		JobID:        msg.JobID,
		DeviceID:     target.DeviceID,
		Provider:     provider,
		AttemptNo:    n,
		FallbackUsed: n > 1,
		CreatedAt:    g.now().UTC(),
	}
}

func setAttemptError(a *model.PushAttempt, code, msg string) {
	if code != "" {
		a.ErrorCode = &code
	}
	if msg != "" {
		a.ErrorMessage = &msg
	}
}

// record writes the attempt even when ctx was canceled mid-dispatch.
func (g *Gateway) record(
	ctx context.Context,
	platform model.Platform,
	attempt *model.PushAttempt,
	sendErr error,
	latency time.Duration,
) error {
	metrics.EmitPushAttempt(g.metrics, metrics.PushAttemptMetric{
		Provider: attempt.Provider,
		Platform: string(platform),
		Outcome:  string(attempt.Outcome),
		Fallback: attempt.FallbackUsed,
		Latency:  latency,
		Err:      sendErr,
	})
	if err := g.attempts.Insert(context.WithoutCancel(ctx), attempt); err != nil {
		g.logger.ErrorContext(ctx, "failed to record push attempt",
			"job_id", attempt.JobID,
			"device_id", attempt.DeviceID,
			"provider", attempt.Provider,
			"attempt", attempt.AttemptNo,
			"error", err,
		)
		return fmt.Errorf("record push attempt %d for device %s: %w", attempt.AttemptNo, attempt.DeviceID, err)
	}
	return nil
}

func (g *Gateway) flag(ctx context.Context, target model.DeviceTarget, provider string, cause error) error {
	g.logger.WarnContext(ctx, "push token rejected; flagging device for re-registration",
		"device_id", target.DeviceID,
		"provider", provider,
		"error", cause,
	)
	if g.flagger == nil {
		return nil
	}
	reason := fmt.Sprintf("%s rejected push token: %s", provider, ErrorCode(cause))
	if err := g.flagger.FlagForReregistration(context.WithoutCancel(ctx), target.DeviceID, reason); err != nil {
		return fmt.Errorf("flag device %s for re-registration: %w", target.DeviceID, err)
	}
	return nil
}
