package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sync"
	"sync/atomic"

	"github.com/genricoloni/dropbeat/internal/domain"
	"github.com/genricoloni/dropbeat/internal/executor"
	"github.com/genricoloni/dropbeat/internal/fetcher"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// blurFilter is the fixed transform chain applied between input and output paths
var blurFilter = []string{
	"-background", "#202020",
	"-alpha", "remove",
	"-alpha", "off",
	"-blur", "0x40",
	"-modulate", "70,100,100",
	"-brightness-contrast", "0x-20",
	"-strip",
}

// Pipeline turns an art reference into the standard and blurred cache slots:
// acquire, validate, transform, and on acquire/validate failure, retry with
// the placeholder.
type Pipeline struct {
	logger  *zap.Logger
	cfg     domain.Config
	fetcher domain.Fetcher
	runner  domain.Runner
	cache   *Cache

	generation atomic.Uint64

	toolMu sync.Mutex
	tool   string
}

var _ domain.ArtProcessor = (*Pipeline)(nil)

// NewPipeline creates a pipeline writing into cfg's output directory
func NewPipeline(logger *zap.Logger, cfg domain.Config, fetcher domain.Fetcher, runner domain.Runner) (*Pipeline, error) {
	cache, err := NewCache(cfg.GetOutputDir())
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		logger:  logger,
		cfg:     cfg,
		fetcher: fetcher,
		runner:  runner,
		cache:   cache,
	}, nil
}

// Cache exposes the slot layout
func (p *Pipeline) Cache() *Cache {
	return p.cache
}

// Init creates the working directory
func (p *Pipeline) Init() error {
	return p.cache.Init()
}

// Clear removes the working directory after in-flight runs finish
func (p *Pipeline) Clear() error {
	return p.cache.Clear()
}

// Process produces both slots for ref. A newer call supersedes any run
// still in flight; the stale run returns ErrSuperseded and leaves the
// cache alone. An empty ref processes the placeholder.
func (p *Pipeline) Process(ctx context.Context, ref string) (domain.ArtResult, error) {
	gen := p.generation.Add(1)
	current := func() bool { return p.generation.Load() == gen }

	p.cache.mu.RLock()
	defer p.cache.mu.RUnlock()

	if err := p.cache.Init(); err != nil {
		return domain.ArtResult{}, err
	}

	result := domain.ArtResult{
		Reference: ref,
		Standard:  p.cache.StandardPath(),
		Blurred:   p.cache.BlurredPath(),
	}

	if ref != "" {
		err := p.runReference(ctx, ref, current)
		if err == nil {
			p.logger.Info("Cover art processed", zap.String("ref", ref))
			return result, nil
		}
		if !shouldFallBack(err) {
			return domain.ArtResult{}, err
		}
		if !current() {
			return domain.ArtResult{}, ErrSuperseded
		}
		p.logger.Warn("Cover art unusable, falling back to placeholder",
			zap.String("ref", ref),
			zap.Error(err))
	}

	result.Fallback = true
	if err := p.runPlaceholder(ctx, current); err != nil {
		return domain.ArtResult{}, err
	}
	return result, nil
}

// runPlaceholder tries the configured override first, then the bundled image
func (p *Pipeline) runPlaceholder(ctx context.Context, current func() bool) error {
	if override := p.cfg.PlaceholderRef(); override != "" {
		err := p.runReference(ctx, override, current)
		if err == nil || !shouldFallBack(err) {
			return err
		}
		p.logger.Warn("Placeholder override unusable, using bundled image",
			zap.String("ref", override),
			zap.Error(err))
	}

	data, err := Placeholder()
	if err != nil {
		return fmt.Errorf("failed to render placeholder: %w", err)
	}
	return p.run(ctx, current, func(dst string) error {
		return writeFile(dst, data)
	})
}

func (p *Pipeline) runReference(ctx context.Context, ref string, current func() bool) error {
	return p.run(ctx, current, func(dst string) error {
		return p.acquire(ctx, ref, dst)
	})
}

// run executes acquire, validate and transform in a private staging pair
// and commits it if the request is still current
func (p *Pipeline) run(ctx context.Context, current func() bool, acquire func(dst string) error) error {
	s := p.cache.stage()

	err := func() error {
		if err := acquire(s.standard); err != nil {
			return err
		}
		format, err := validateFile(s.standard)
		if err != nil {
			return err
		}
		p.logger.Debug("Cover art validated", zap.Stringer("format", format))
		return p.transform(ctx, s.standard, s.blurred)
	}()
	if err != nil {
		return multierr.Append(err, s.discard())
	}

	return p.cache.commit(s, current)
}

// acquire writes the bytes behind ref into dst
func (p *Pipeline) acquire(ctx context.Context, ref, dst string) error {
	u, err := url.Parse(ref)
	if err != nil {
		return &AcquireError{Reference: ref, Reason: "malformed reference", Err: err}
	}

	switch u.Scheme {
	case "http", "https":
		if !p.cfg.AllowRemoteArt() {
			return &AcquireError{Reference: ref, Reason: "remote art disabled"}
		}
		resp, err := p.fetcher.Fetch(ctx, ref)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, fetcher.ErrBodyTooLarge) {
				return &AcquireError{Reference: ref, Reason: "too large", Err: err}
			}
			return &AcquireError{Reference: ref, Reason: "unreachable", Err: err}
		}
		if !resp.OK() {
			return &AcquireError{Reference: ref, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
		}
		if len(resp.Body) == 0 {
			return &AcquireError{Reference: ref, Reason: "empty body"}
		}
		return writeFile(dst, resp.Body)

	case "file":
		data, err := os.ReadFile(u.Path)
		if err != nil {
			return &AcquireError{Reference: ref, Reason: "unreadable file", Err: err}
		}
		return writeFile(dst, data)
	}

	return &AcquireError{Reference: ref, Reason: "unsupported reference"}
}

// transform runs the fixed filter chain from in to out
func (p *Pipeline) transform(ctx context.Context, in, out string) error {
	tool, err := p.transformTool()
	if err != nil {
		return err
	}

	argv := make([]string, 0, len(blurFilter)+3)
	argv = append(argv, tool, in)
	argv = append(argv, blurFilter...)
	argv = append(argv, out)

	if _, err := p.runner.Run(ctx, argv, false); err != nil {
		return fmt.Errorf("transform failed: %w", err)
	}
	if _, err := os.Stat(out); err != nil {
		return fmt.Errorf("transform produced no output: %w", err)
	}
	return nil
}

// transformTool resolves the binary on first use so a missing tool only
// fails art processing, not startup
func (p *Pipeline) transformTool() (string, error) {
	p.toolMu.Lock()
	defer p.toolMu.Unlock()

	if p.tool != "" {
		return p.tool, nil
	}
	tool, err := executor.DetectTransformTool(p.logger, p.cfg.MagickBinary())
	if err != nil {
		return "", err
	}
	p.tool = tool
	return tool, nil
}

// writeFile surfaces short writes and close failures
func writeFile(dst string, data []byte) (err error) {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to close %s: %w", dst, closeErr))
		}
	}()

	n, err := f.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if n != len(data) {
		return fmt.Errorf("failed to write %s: %w", dst, io.ErrShortWrite)
	}
	return nil
}
