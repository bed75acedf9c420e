package gqlwire

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nbaertsch/gqlwire/pkg/exchange"
	"github.com/nbaertsch/gqlwire/pkg/model"
	"github.com/nbaertsch/gqlwire/pkg/stream"
	"github.com/nbaertsch/gqlwire/pkg/xerrors"
)

// eventLoop serializes callbacks so that every operator callback, cache
// mutation, and listener notification is mutually exclusive. It is a
// trampoline rather than a dedicated goroutine: the first poster drains
// the queue, and a post made from inside a draining callback enqueues
// instead of recursing.
type eventLoop struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (l *eventLoop) post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	for {
		if len(l.queue) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		next := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		next()
		l.mu.Lock()
	}
}

// Client routes typed operation artifacts through its composed exchange
// pipeline and hands back lazy result streams. One pipeline is composed
// at construction and shared by every operation for the client's
// lifetime, multiplexed by operation key.
type Client struct {
	config     Config
	logger     *logrus.Logger
	loop       eventLoop
	ops        *stream.Subject[model.Operation]
	observers  map[int64]stream.Sink[model.OperationResult]
	extensions map[string]interface{}
	resultsSub stream.Subscription
	nextKey    int64
}

// NewClient composes cfg.Exchanges into a pipeline and starts the
// client's permanent subscription to it.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Scalars) > 0 {
		merged := make(map[string]model.ScalarCodec, len(cfg.Schema.Scalars)+len(cfg.Scalars))
		for k, v := range cfg.Schema.Scalars {
			merged[k] = v
		}
		for k, v := range cfg.Scalars {
			merged[k] = v
		}
		cfg.Schema.Scalars = merged
	}

	c := &Client{
		config:    cfg,
		logger:    cfg.Logger,
		ops:       stream.MakeSubject[model.Operation](),
		observers: make(map[int64]stream.Sink[model.OperationResult]),
	}
	if c.logger == nil {
		c.logger = silentLogger()
	}

	io, extensions := exchange.Compose(cfg.Exchanges, c)
	c.extensions = extensions
	c.loop.post(func() {
		c.resultsSub = io(c.ops.Source)(stream.Sink[model.OperationResult]{
			Next: c.dispatch,
		})
	})
	return c, nil
}

// Schema implements exchange.ClientHandle.
func (c *Client) Schema() model.Schema { return c.config.Schema }

// Logger implements exchange.ClientHandle.
func (c *Client) Logger() *logrus.Logger { return c.logger }

// Post implements exchange.ClientHandle: it serializes fn onto the
// client's logical event loop.
func (c *Client) Post(fn func()) { c.loop.post(fn) }

// Extensions returns the exchange extension map built at composition,
// keyed by exchange name (the "cache" entry is an
// exchange.CacheExtension).
func (c *Client) Extensions() map[string]interface{} { return c.extensions }

// CacheExtension returns the cache exchange's extension, ok=false when
// no cache exchange is in the chain.
func (c *Client) CacheExtension() (exchange.CacheExtension, bool) {
	ext, ok := c.extensions["cache"].(exchange.CacheExtension)
	return ext, ok
}

func (c *Client) dispatch(res model.OperationResult) {
	obs, ok := c.observers[res.Operation.Key]
	if !ok {
		return
	}
	if obs.Next != nil {
		obs.Next(res)
	}
}

// RequestOption customizes the metadata a request operation carries.
type RequestOption func(metadata map[string]interface{})

// WithPolicy overrides the cache policy for one request.
func WithPolicy(p exchange.CachePolicy) RequestOption {
	return WithMetadata("cache", "policy", string(p))
}

// WithMetadata sets metadata[section][key] = value on the request.
func WithMetadata(section, key string, value interface{}) RequestOption {
	return func(md map[string]interface{}) {
		sec, _ := md[section].(map[string]interface{})
		if sec == nil {
			sec = map[string]interface{}{}
			md[section] = sec
		}
		sec[key] = value
	}
}

// ExecuteQuery returns a lazy result stream for a query artifact. Each
// subscription gets its own operation key; the request is emitted into
// the pipeline on subscribe and the paired teardown on unsubscribe.
func (c *Client) ExecuteQuery(artifact *model.Artifact, variables map[string]interface{}, opts ...RequestOption) stream.Source[model.OperationResult] {
	return c.executeOperation(artifact, variables, opts)
}

// ExecuteMutation returns a lazy result stream for a mutation artifact.
func (c *Client) ExecuteMutation(artifact *model.Artifact, variables map[string]interface{}, opts ...RequestOption) stream.Source[model.OperationResult] {
	return c.executeOperation(artifact, variables, opts)
}

// ExecuteSubscription returns a lazy result stream for a subscription
// artifact; pushes keep arriving until the subscriber detaches.
func (c *Client) ExecuteSubscription(artifact *model.Artifact, variables map[string]interface{}, opts ...RequestOption) stream.Source[model.OperationResult] {
	return c.executeOperation(artifact, variables, opts)
}

// ExecuteFragment returns a lazy result stream projecting ref through
// the fragment artifact's selection set, re-emitting on cache changes.
func (c *Client) ExecuteFragment(artifact *model.Artifact, ref model.FragmentRef, variables map[string]interface{}, opts ...RequestOption) stream.Source[model.OperationResult] {
	opts = append([]RequestOption{WithMetadata("fragment", "ref", ref)}, opts...)
	return c.executeOperation(artifact, variables, opts)
}

func (c *Client) executeOperation(artifact *model.Artifact, variables map[string]interface{}, opts []RequestOption) stream.Source[model.OperationResult] {
	return stream.Make(func(observer stream.Sink[model.OperationResult]) func() {
		metadata := map[string]interface{}{}
		if c.config.DefaultPolicy != "" {
			WithPolicy(c.config.DefaultPolicy)(metadata)
		}
		for _, opt := range opts {
			opt(metadata)
		}

		var key int64
		c.loop.post(func() {
			c.nextKey++
			key = c.nextKey
			c.observers[key] = observer
			c.ops.Next(model.NewRequest(key, artifact, variables, metadata))
		})
		return func() {
			c.loop.post(func() {
				delete(c.observers, key)
				c.ops.Next(model.NewTeardown(key, nil))
			})
		}
	})
}

// Query executes a query and blocks for its first result: the data on
// success, an AggregatedError when the result carries errors.
func (c *Client) Query(ctx context.Context, artifact *model.Artifact, variables map[string]interface{}, opts ...RequestOption) (map[string]interface{}, error) {
	return c.await(ctx, c.ExecuteQuery(artifact, variables, opts...))
}

// Mutation executes a mutation and blocks for its first result.
func (c *Client) Mutation(ctx context.Context, artifact *model.Artifact, variables map[string]interface{}, opts ...RequestOption) (map[string]interface{}, error) {
	return c.await(ctx, c.ExecuteMutation(artifact, variables, opts...))
}

func (c *Client) await(ctx context.Context, src stream.Source[model.OperationResult]) (map[string]interface{}, error) {
	ch := make(chan model.OperationResult, 1)
	unsub := stream.Subscribe(src, func(res model.OperationResult) {
		select {
		case ch <- res:
		default:
		}
	})
	defer unsub()

	select {
	case res := <-ch:
		if len(res.Errors) > 0 {
			return nil, xerrors.NewAggregatedError(res.Errors)
		}
		data, _ := res.DataMap()
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
