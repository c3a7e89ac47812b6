package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/genricoloni/dropbeat/internal/domain"
	"github.com/genricoloni/dropbeat/internal/monitor"
	"github.com/genricoloni/dropbeat/internal/processor"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// ErrUnknownPlayer is returned when controlling a player that is not running
	ErrUnknownPlayer = errors.New("unknown player")
	// ErrUnknownAction is returned for actions other than PlayPause, Previous and Next
	ErrUnknownAction = errors.New("unknown action")
	// ErrEngineStopped is returned when starting an engine that was already stopped
	ErrEngineStopped = errors.New("engine already stopped")
)

// Tracker is the live view of the players on the bus
type Tracker interface {
	Subscribe() error
	Seed() []domain.PlayerIdentity
	Unsubscribe() error
	Events() <-chan domain.PlayerEvent
	Players() []domain.PlayerIdentity
	Snapshot(identity domain.PlayerIdentity) *domain.PlayerSnapshot
	Control(ctx context.Context, identity domain.PlayerIdentity, action domain.Action) error
}

// Session is a resource opened for the engine's lifetime
type Session interface {
	Open()
	Close()
}

// Update is one notification for the presentation layer. Player updates
// carry the event and a fresh snapshot; art updates carry the processed
// slots and the event of the player whose art changed.
type Update struct {
	Event    domain.PlayerEvent
	Snapshot *domain.PlayerSnapshot
	Art      *domain.ArtResult
}

type artRequest struct {
	player domain.PlayerIdentity
	ref    string
}

type artOutcome struct {
	req    artRequest
	result domain.ArtResult
	err    error
}

// Engine is the core facade: it tracks players, forwards their events,
// and keeps the cover-art cache in step with the art they report.
type Engine struct {
	logger  *zap.Logger
	cfg     domain.Config
	tracker Tracker
	art     domain.ArtProcessor
	session Session
	res     *domain.ScreenResolution

	updates chan Update
	artDone chan artOutcome

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// owned by runLoop
	wantArt  *string
	inFlight *string
}

// NewEngine creates a new engine
func NewEngine(
	logger *zap.Logger,
	cfg domain.Config,
	tracker Tracker,
	art domain.ArtProcessor,
	session Session,
	res *domain.ScreenResolution,
) *Engine {
	return &Engine{
		logger:  logger,
		cfg:     cfg,
		tracker: tracker,
		art:     art,
		session: session,
		res:     res,
		updates: make(chan Update, 64),
		artDone: make(chan artOutcome, 1),
	}
}

// Updates returns the ordered update stream. It is closed by Stop.
func (e *Engine) Updates() <-chan Update {
	return e.updates
}

// Start opens the HTTP session, prepares the cache and subscribes to the bus.
// Already-running players are seeded in the background; it returns immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}
	if e.stopped {
		return ErrEngineStopped
	}

	e.logger.Info("Engine starting...")

	e.session.Open()
	if err := e.art.Init(); err != nil {
		e.session.Close()
		return err
	}
	if err := e.tracker.Subscribe(); err != nil {
		e.session.Close()
		return fmt.Errorf("failed to subscribe to players: %w", err)
	}

	// The loop outlives the start context
	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true

	e.wg.Add(1)
	go e.runLoop(loopCtx)

	// Seed blocks once the event buffers fill, and they only drain after
	// the caller starts reading Updates
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		players := e.tracker.Seed()
		e.logger.Info("Players seeded", zap.Int("players", len(players)))
	}()

	e.logger.Info("Engine started")
	return nil
}

// Stop tears everything down in reverse order and closes Updates
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false
	e.stopped = true

	err := e.tracker.Unsubscribe()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("engine loop did not stop: %w", ctx.Err()))
	}

	e.session.Close()
	err = multierr.Append(err, e.art.Clear())

	e.logger.Info("Engine stopped")
	return err
}

// Players returns the running players
func (e *Engine) Players() []domain.PlayerIdentity {
	return e.tracker.Players()
}

// Snapshot returns the normalized metadata of identity, or nil
func (e *Engine) Snapshot(identity domain.PlayerIdentity) *domain.PlayerSnapshot {
	return e.tracker.Snapshot(identity)
}

// Control sends action to identity
func (e *Engine) Control(ctx context.Context, identity domain.PlayerIdentity, action domain.Action) error {
	switch action {
	case domain.ActionPlayPause, domain.ActionPrevious, domain.ActionNext:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	err := e.tracker.Control(ctx, identity, action)
	if errors.Is(err, monitor.ErrPlayerNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, identity)
	}
	return err
}

// ProcessArt runs the cover-art pipeline for ref directly
func (e *Engine) ProcessArt(ctx context.Context, ref string) (domain.ArtResult, error) {
	return e.art.Process(ctx, ref)
}

// CardSize returns the player card geometry for the primary display
func (e *Engine) CardSize() domain.CardSize {
	return monitor.CardSizeFor(e.res)
}

// runLoop forwards player events and debounces art processing.
// Debouncing avoids running the transform for every track while skipping.
func (e *Engine) runLoop(ctx context.Context) {
	defer e.wg.Done()
	defer close(e.updates)

	debounce := e.cfg.Debounce()
	timer := time.NewTimer(debounce)
	timer.Stop()

	events := e.tracker.Events()
	var pending *artRequest

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine loop stopped")
			return

		case ev, ok := <-events:
			if !ok {
				e.logger.Info("Player events channel closed")
				return
			}

			snap := e.tracker.Snapshot(ev.Player)
			e.publish(ctx, Update{Event: ev, Snapshot: snap})

			if req, ok := e.artChange(ev, snap); ok {
				e.logger.Debug("Art changed, debouncing...",
					zap.String("player", string(ev.Player)),
					zap.String("ref", req.ref))
				pending = &req
				timer.Reset(debounce)
			}

		case <-timer.C:
			if pending != nil {
				e.startArt(ctx, *pending)
				pending = nil
			}

		case out := <-e.artDone:
			e.finishArt(ctx, out)
		}
	}
}

// artChange reports whether ev's snapshot points at art other than the
// last one scheduled
func (e *Engine) artChange(ev domain.PlayerEvent, snap *domain.PlayerSnapshot) (artRequest, bool) {
	if ev.Kind == domain.PlayerStopped || snap == nil {
		return artRequest{}, false
	}
	if e.wantArt != nil && *e.wantArt == snap.ArtURL {
		return artRequest{}, false
	}
	ref := snap.ArtURL
	e.wantArt = &ref
	return artRequest{player: ev.Player, ref: ref}, true
}

// startArt runs the pipeline in the background unless ref is already running
func (e *Engine) startArt(ctx context.Context, req artRequest) {
	if e.inFlight != nil && *e.inFlight == req.ref {
		e.logger.Debug("Art already in flight, dropping request", zap.String("ref", req.ref))
		return
	}

	ref := req.ref
	e.inFlight = &ref

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		result, err := e.art.Process(ctx, req.ref)
		select {
		case e.artDone <- artOutcome{req: req, result: result, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) finishArt(ctx context.Context, out artOutcome) {
	if e.inFlight != nil && *e.inFlight == out.req.ref {
		e.inFlight = nil
	}

	switch {
	case errors.Is(out.err, processor.ErrSuperseded):
		e.logger.Debug("Art result superseded", zap.String("ref", out.req.ref))
		return
	case out.err != nil:
		e.logger.Error("Failed to process cover art",
			zap.String("player", string(out.req.player)),
			zap.String("ref", out.req.ref),
			zap.Error(out.err))
		// Let the next event for this art retry
		if e.wantArt != nil && *e.wantArt == out.req.ref {
			e.wantArt = nil
		}
		return
	}

	result := out.result
	e.publish(ctx, Update{
		Event: domain.PlayerEvent{Kind: domain.PlayerChanged, Player: out.req.player},
		Art:   &result,
	})
}

// publish delivers u in order, giving up only when the engine stops
func (e *Engine) publish(ctx context.Context, u Update) {
	select {
	case e.updates <- u:
	case <-ctx.Done():
	}
}
