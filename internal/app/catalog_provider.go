package app

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/hashutil"
	"cdsmcp/internal/infra/mcpserver"
	"cdsmcp/internal/infra/telemetry"
)

const defaultReloadDebounce = 200 * time.Millisecond

// ServerFactory materializes the protocol server for a catalog.
type ServerFactory func(catalog *domain.Catalog) *mcpserver.Server

type catalogState struct {
	revision uint64
	etag     string
	catalog  *domain.Catalog
	server   *mcpserver.Server
	loadedAt time.Time
}

// CatalogProvider owns the current catalog and its protocol server. New
// sessions pick up the latest revision; established sessions keep the
// server they connected to.
type CatalogProvider struct {
	logger    *zap.Logger
	builder   *CatalogBuilder
	backend   domain.Backend
	newServer ServerFactory
	metrics   domain.Metrics
	watch     bool
	debounce  time.Duration

	state atomic.Pointer[catalogState]

	subsMu sync.Mutex
	subs   map[chan domain.CatalogUpdate]struct{}

	reloadMu  sync.Mutex
	watchOnce sync.Once
}

// CatalogProviderOptions configures a CatalogProvider.
type CatalogProviderOptions struct {
	Builder    *CatalogBuilder
	Backend    domain.Backend
	NewServer  ServerFactory
	Metrics    domain.Metrics
	Logger     *zap.Logger
	WatchModel bool
}

// NewCatalogProvider builds the bootstrap catalog. A bootstrap failure is
// fatal; later reload failures keep the previous revision.
func NewCatalogProvider(ctx context.Context, opts CatalogProviderOptions) (*CatalogProvider, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	p := &CatalogProvider{
		logger:    logger.Named("catalog_provider"),
		builder:   opts.Builder,
		backend:   opts.Backend,
		newServer: opts.NewServer,
		metrics:   metrics,
		watch:     opts.WatchModel,
		debounce:  defaultReloadDebounce,
		subs:      make(map[chan domain.CatalogUpdate]struct{}),
	}
	if _, err := p.reload(ctx, domain.CatalogUpdateSourceBootstrap); err != nil {
		return nil, err
	}
	return p, nil
}

// Server returns the protocol server of the current revision.
func (p *CatalogProvider) Server() *mcpserver.Server {
	state := p.state.Load()
	if state == nil {
		return nil
	}
	return state.server
}

// Catalog returns the current catalog.
func (p *CatalogProvider) Catalog() *domain.Catalog {
	state := p.state.Load()
	if state == nil {
		return nil
	}
	return state.catalog
}

// Revision returns the current revision, starting at 1.
func (p *CatalogProvider) Revision() uint64 {
	state := p.state.Load()
	if state == nil {
		return 0
	}
	return state.revision
}

// Watch subscribes to catalog updates until ctx is done. Slow subscribers
// miss intermediate updates.
func (p *CatalogProvider) Watch(ctx context.Context) <-chan domain.CatalogUpdate {
	if ctx == nil {
		ctx = context.Background()
	}
	ch := make(chan domain.CatalogUpdate, 1)
	p.subsMu.Lock()
	p.subs[ch] = struct{}{}
	p.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		p.subsMu.Lock()
		delete(p.subs, ch)
		p.subsMu.Unlock()
	}()
	return ch
}

// Reload rebuilds the catalog from the model file.
func (p *CatalogProvider) Reload(ctx context.Context) error {
	_, err := p.reload(ctx, domain.CatalogUpdateSourceManual)
	return err
}

// Start watches the model file when enabled. It returns immediately.
func (p *CatalogProvider) Start(ctx context.Context) {
	if !p.watch {
		return
	}
	p.watchOnce.Do(func() {
		go p.runWatcher(ctx)
	})
}

func (p *CatalogProvider) reload(ctx context.Context, source domain.CatalogUpdateSource) (*catalogState, error) {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	catalog, err := p.builder.Build(ctx)
	etag := hashutil.CatalogETag(p.logger, catalog)
	current := p.state.Load()
	if err == nil && current != nil && etag != "" && etag == current.etag {
		p.logger.Debug("catalog unchanged", zap.Uint64("revision", current.revision))
		return current, nil
	}
	if err == nil {
		err = prepareBackend(ctx, p.backend, catalog)
	}
	if err != nil {
		p.metrics.ObserveCatalogBuild(domain.CatalogSummary{}, err)
		if source != domain.CatalogUpdateSourceBootstrap {
			p.logger.Warn("catalog reload rejected; keeping previous revision",
				telemetry.EventField(telemetry.EventCatalogRejected),
				zap.Uint64("revision", p.Revision()),
				zap.Error(err),
			)
		}
		return nil, err
	}

	for _, diag := range catalog.Diagnostics {
		p.logger.Warn("catalog element skipped",
			zap.String("element", diag.Element),
			zap.String("reason", diag.Message),
		)
	}

	next := &catalogState{
		revision: p.Revision() + 1,
		etag:     etag,
		catalog:  catalog,
		server:   p.newServer(catalog),
		loadedAt: time.Now(),
	}
	p.state.Store(next)

	summary := catalog.Summary()
	p.metrics.ObserveCatalogBuild(summary, nil)

	event := telemetry.EventCatalogReload
	if source == domain.CatalogUpdateSourceBootstrap {
		event = telemetry.EventCatalogBuilt
	}
	p.logger.Info("catalog ready",
		telemetry.EventField(event),
		zap.String("source", string(source)),
		zap.Uint64("revision", next.revision),
		zap.Int("tools", summary.Tools),
		zap.Int("resources", summary.Resources),
		zap.Int("prompts", summary.Prompts),
	)

	p.broadcast(domain.CatalogUpdate{
		Revision: next.revision,
		Summary:  summary,
		Source:   source,
		LoadedAt: next.loadedAt,
	})
	return next, nil
}

func (p *CatalogProvider) broadcast(update domain.CatalogUpdate) {
	for _, ch := range p.copySubscribers() {
		select {
		case ch <- update:
		default:
		}
	}
}

func (p *CatalogProvider) copySubscribers() []chan domain.CatalogUpdate {
	p.subsMu.Lock()
	defer p.subsMu.Unlock()

	out := make([]chan domain.CatalogUpdate, 0, len(p.subs))
	for ch := range p.subs {
		out = append(out, ch)
	}
	return out
}

func (p *CatalogProvider) runWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Warn("model watcher failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	// Editors often replace the file, so watch its directory.
	modelPath := filepath.Clean(p.builder.Path())
	if err := watcher.Add(filepath.Dir(modelPath)); err != nil {
		p.logger.Warn("model watcher add failed", zap.String("path", modelPath), zap.Error(err))
		return
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("model watcher error", zap.Error(err))
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !shouldReloadForEvent(modelPath, event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(p.debounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.debounce)
		case <-timerChan(timer):
			timer = nil
			_, _ = p.reload(ctx, domain.CatalogUpdateSourceWatch)
		}
	}
}

func shouldReloadForEvent(modelPath string, event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != modelPath {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
