// Package registry resolves the prediction endpoint once per process: it
// reuses an endpoint with the configured display name or trains and deploys
// a new model, and memoizes the result.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/actuallystonmai/purchase-recommender/internal/domain"
	"github.com/actuallystonmai/purchase-recommender/internal/metrics"
)

type State int32

const (
	Unresolved State = iota
	Searching
	Found
	Training
	Deploying
	Resolved
	Failed
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Searching:
		return "searching"
	case Found:
		return "found"
	case Training:
		return "training"
	case Deploying:
		return "deploying"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Lifecycle is the model service the registry drives.
type Lifecycle interface {
	ListEndpoints(ctx context.Context) ([]domain.EndpointHandle, error)
	CreateDataset(ctx context.Context, sourceURI, displayName string) (domain.DatasetRef, error)
	TrainClassifier(ctx context.Context, dataset domain.DatasetRef, spec domain.TrainingSpec) (domain.ModelArtifact, error)
	Deploy(ctx context.Context, artifact domain.ModelArtifact, spec domain.DeploySpec) (domain.EndpointHandle, error)
}

// Locker serializes training across processes. A held lease expires unless
// the holder extends it.
type Locker interface {
	TryLock(ctx context.Context, key string) (token string, ok bool, err error)
	Extend(ctx context.Context, key, token string) error
	Unlock(ctx context.Context, key, token string) error
}

type Config struct {
	// DisplayName is the endpoint to look for, and the name given to a new one.
	DisplayName        string
	SourceURI          string
	DatasetDisplayName string
	Training           domain.TrainingSpec
	Deploy             domain.DeploySpec

	// Phase timeouts. Zero means no timeout.
	ListTimeout     time.Duration
	DatasetTimeout  time.Duration
	TrainingTimeout time.Duration
	DeployTimeout   time.Duration

	LeaseKey  string
	LeasePoll time.Duration
	// LeaseRenew is how often a holder extends the lease. It must be well
	// under the lease TTL.
	LeaseRenew time.Duration
}

var (
	errNoModel    = errors.New("training produced no model")
	errNoEndpoint = errors.New("deployment produced no endpoint")
)

type Option func(*Registry)

// WithLocker makes the registry take a lease before training.
func WithLocker(l Locker) Option {
	return func(r *Registry) {
		r.locker = l
	}
}

type Registry struct {
	lc     Lifecycle
	locker Locker
	cfg    Config
	log    *zap.Logger

	flight singleflight.Group

	mu      sync.RWMutex
	handle  domain.EndpointHandle
	state   State
	failure error
}

func New(lc Lifecycle, cfg Config, opts ...Option) *Registry {
	if cfg.Deploy.DisplayName == "" {
		cfg.Deploy.DisplayName = cfg.DisplayName
	}
	if cfg.LeaseKey == "" {
		cfg.LeaseKey = "endpoint-lease:" + cfg.DisplayName
	}
	if cfg.LeasePoll <= 0 {
		cfg.LeasePoll = 30 * time.Second
	}
	if cfg.LeaseRenew <= 0 {
		cfg.LeaseRenew = 20 * time.Second
	}
	r := &Registry{
		lc:  lc,
		cfg: cfg,
		log: zap.L().With(zap.String("component", "registry"), zap.String("endpoint", cfg.DisplayName)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Current returns the resolved handle without any I/O.
func (r *Registry) Current() (domain.EndpointHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handle, !r.handle.IsZero()
}

func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Resolve returns the endpoint handle, finding or building it on first use.
// Concurrent callers share one attempt. A caller whose ctx ends stops waiting
// but the attempt carries on for the others.
func (r *Registry) Resolve(ctx context.Context) (domain.EndpointHandle, error) {
	if h, ok := r.Current(); ok {
		metrics.EndpointResolutions.WithLabelValues("cached").Inc()
		return h, nil
	}
	if err := r.stickyFailure(); err != nil {
		return domain.EndpointHandle{}, err
	}

	ch := r.flight.DoChan("resolve", func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.EndpointHandle{}, res.Err
		}
		return res.Val.(domain.EndpointHandle), nil
	case <-ctx.Done():
		return domain.EndpointHandle{}, domain.NewError(ctx, domain.ErrServiceUnavailable, "registry.Resolve", ctx.Err())
	}
}

func (r *Registry) resolve(ctx context.Context) (domain.EndpointHandle, error) {
	// an earlier flight may have settled after our fast-path check
	if h, ok := r.Current(); ok {
		return h, nil
	}
	if err := r.stickyFailure(); err != nil {
		return domain.EndpointHandle{}, err
	}

	h, found, err := r.search(ctx)
	if err != nil {
		return r.abort(err)
	}
	if found {
		return r.settle(h, "found"), nil
	}

	if r.locker == nil {
		return r.build(ctx)
	}
	return r.buildLeased(ctx)
}

// search lists endpoints and picks the first with the target display name.
func (r *Registry) search(ctx context.Context) (domain.EndpointHandle, bool, error) {
	r.setState(Searching)

	listCtx, cancel := withTimeout(ctx, r.cfg.ListTimeout)
	defer cancel()

	handles, err := r.lc.ListEndpoints(listCtx)
	if err != nil {
		return domain.EndpointHandle{}, false, domain.NewError(listCtx, domain.ErrServiceUnavailable, "registry.search", err)
	}
	for _, h := range handles {
		if h.DisplayName == r.cfg.DisplayName && !h.IsZero() {
			r.setState(Found)
			r.log.Info("reusing existing endpoint", zap.String("resource", h.ResourceName))
			return h, true, nil
		}
	}
	return domain.EndpointHandle{}, false, nil
}

// buildLeased trains only while holding the lease. Without it, the registry
// waits for the holder's endpoint to show up or for the lease to free up.
func (r *Registry) buildLeased(ctx context.Context) (domain.EndpointHandle, error) {
	waitCtx, cancel := withTimeout(ctx, r.cfg.DatasetTimeout+r.cfg.TrainingTimeout+r.cfg.DeployTimeout)
	defer cancel()

	for {
		token, ok, err := r.locker.TryLock(waitCtx, r.cfg.LeaseKey)
		if err != nil {
			return r.abort(domain.NewError(waitCtx, domain.ErrServiceUnavailable, "registry.lease", err))
		}
		if ok {
			defer r.release(token)
			defer r.keepAlive(ctx, token)()

			h, found, err := r.search(ctx)
			if err != nil {
				return r.abort(err)
			}
			if found {
				return r.settle(h, "found"), nil
			}
			return r.build(ctx)
		}

		r.log.Info("another replica is building the endpoint; waiting",
			zap.String("lease", r.cfg.LeaseKey),
			zap.Duration("poll", r.cfg.LeasePoll))
		if err := sleep(waitCtx, r.cfg.LeasePoll); err != nil {
			return r.abort(domain.NewError(waitCtx, domain.ErrServiceUnavailable, "registry.lease", err))
		}

		h, found, err := r.search(ctx)
		if err != nil {
			return r.abort(err)
		}
		if found {
			return r.settle(h, "found"), nil
		}
	}
}

// keepAlive extends the lease every LeaseRenew until the returned stop
// function is called. stop waits for the renewal goroutine to exit.
func (r *Registry) keepAlive(ctx context.Context, token string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.cfg.LeaseRenew)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.locker.Extend(ctx, r.cfg.LeaseKey, token); err != nil && ctx.Err() == nil {
					r.log.Warn("failed to extend lease", zap.String("lease", r.cfg.LeaseKey), zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (r *Registry) release(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.locker.Unlock(ctx, r.cfg.LeaseKey, token); err != nil {
		r.log.Warn("failed to release lease", zap.String("lease", r.cfg.LeaseKey), zap.Error(err))
	}
}

// build runs create dataset, train and deploy in order. Any failure is
// remembered and returned by every later Resolve.
func (r *Registry) build(ctx context.Context) (domain.EndpointHandle, error) {
	r.setState(Training)
	r.log.Info("no endpoint found; training a new model",
		zap.String("source", r.cfg.SourceURI),
		zap.String("model", r.cfg.Training.DisplayName))

	var dataset domain.DatasetRef
	err := r.phase(ctx, "dataset", r.cfg.DatasetTimeout, domain.ErrTrainingFailed, func(ctx context.Context) (err error) {
		dataset, err = r.lc.CreateDataset(ctx, r.cfg.SourceURI, r.cfg.DatasetDisplayName)
		return err
	})
	if err != nil {
		return r.fail(err)
	}

	var artifact domain.ModelArtifact
	err = r.phase(ctx, "training", r.cfg.TrainingTimeout, domain.ErrTrainingFailed, func(ctx context.Context) (err error) {
		artifact, err = r.lc.TrainClassifier(ctx, dataset, r.cfg.Training)
		if err == nil && artifact.Name == "" {
			err = errNoModel
		}
		return err
	})
	if err != nil {
		return r.fail(err)
	}

	r.setState(Deploying)
	var h domain.EndpointHandle
	err = r.phase(ctx, "deploy", r.cfg.DeployTimeout, domain.ErrDeploymentFailed, func(ctx context.Context) (err error) {
		h, err = r.lc.Deploy(ctx, artifact, r.cfg.Deploy)
		if err == nil && h.IsZero() {
			err = errNoEndpoint
		}
		return err
	})
	if err != nil {
		return r.fail(err)
	}

	return r.settle(h, "trained"), nil
}

// phase runs fn under its own timeout and classifies its failure as kind.
func (r *Registry) phase(ctx context.Context, name string, timeout time.Duration, kind error, fn func(context.Context) error) error {
	phaseCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(phaseCtx)
	metrics.LifecyclePhaseDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.NewError(phaseCtx, kind, "registry."+name, err)
	}
	r.log.Info("lifecycle phase done", zap.String("phase", name), zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (r *Registry) settle(h domain.EndpointHandle, path string) domain.EndpointHandle {
	r.mu.Lock()
	if r.handle.IsZero() {
		r.handle = h
	}
	h = r.handle
	r.state = Resolved
	r.mu.Unlock()

	metrics.RegistryState.Set(float64(Resolved))
	metrics.EndpointResolutions.WithLabelValues(path).Inc()
	r.log.Info("endpoint resolved", zap.String("resource", h.ResourceName), zap.String("path", path))
	return h
}

// abort returns a failure that started no lifecycle cycle; the next Resolve
// searches again.
func (r *Registry) abort(err error) (domain.EndpointHandle, error) {
	r.setState(Unresolved)
	metrics.EndpointResolutions.WithLabelValues("failed").Inc()
	r.log.Warn("endpoint search failed", zap.Error(err))
	return domain.EndpointHandle{}, err
}

func (r *Registry) fail(err error) (domain.EndpointHandle, error) {
	r.mu.Lock()
	r.state = Failed
	r.failure = err
	r.mu.Unlock()

	metrics.RegistryState.Set(float64(Failed))
	metrics.EndpointResolutions.WithLabelValues("failed").Inc()
	r.log.Error("endpoint lifecycle failed", zap.Error(err))
	return domain.EndpointHandle{}, err
}

func (r *Registry) stickyFailure() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failure
}

func (r *Registry) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	metrics.RegistryState.Set(float64(s))
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
