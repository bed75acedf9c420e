package exchange

import (
	"encoding/json"
	"sync"
	"time"

	graphql "github.com/hasura/go-graphql-client"

	"github.com/nbaertsch/gqlwire/pkg/model"
	"github.com/nbaertsch/gqlwire/pkg/stream"
	"github.com/nbaertsch/gqlwire/pkg/xerrors"
)

// SubscriptionRequest is what the subscription exchange hands the
// underlying transport for each subscription operation.
type SubscriptionRequest struct {
	Query     string
	Variables map[string]interface{}
}

// SubscriptionPayload is one push from the server: the same
// {data, errors, extensions} shape an HTTP response body carries.
type SubscriptionPayload struct {
	Data       map[string]interface{}
	Errors     []model.GraphQLErrorEntry
	Extensions map[string]interface{}
}

// SubscriptionObserver receives pushes for one subscription until the
// returned unsubscribe function is called.
type SubscriptionObserver struct {
	Next     func(payload SubscriptionPayload)
	Error    func(err error)
	Complete func()
}

// SubscriptionClient is the transport contract the subscription exchange
// wraps. Observer callbacks may arrive on any goroutine; the exchange
// serializes them onto the client loop itself.
type SubscriptionClient interface {
	Subscribe(req SubscriptionRequest, obs SubscriptionObserver) (unsubscribe func())
}

// Subscriptions routes subscription operations to sc and passes
// everything else downstream. The transport call for each operation is
// deferred off the current callback, so a teardown that arrives before
// the deferred start runs prevents the transport from ever being
// invoked.
func Subscriptions(sc SubscriptionClient) Builder {
	return func(forward IO, client ClientHandle) Instance {
		io := func(ops stream.Source[model.Operation]) stream.Source[model.OperationResult] {
			return func(sink stream.Sink[model.OperationResult]) stream.Subscription {
				active := map[int64]func(){}
				downstreamOps := stream.MakeSubject[model.Operation]()

				forwardSub := forward(downstreamOps.Source)(stream.Sink[model.OperationResult]{
					Next:     sink.Next,
					Error:    sink.Error,
					Complete: sink.Complete,
				})

				start := func(op model.Operation) {
					cancelled := false
					active[op.Key] = func() { cancelled = true }

					go client.Post(func() {
						if cancelled {
							return
						}
						req := SubscriptionRequest{Query: op.Artifact.Body, Variables: op.Variables}
						unsub := sc.Subscribe(req, SubscriptionObserver{
							Next: func(payload SubscriptionPayload) {
								client.Post(func() {
									if cancelled {
										return
									}
									errs := make([]error, 0, len(payload.Errors))
									for _, e := range payload.Errors {
										locs := make([]xerrors.Location, len(e.Locations))
										for i, l := range e.Locations {
											locs[i] = xerrors.Location{Line: l.Line, Column: l.Column}
										}
										errs = append(errs, &xerrors.GraphQLError{
											Message:    e.Message,
											Path:       e.Path,
											Locations:  locs,
											Extensions: e.Extensions,
										})
									}
									res := model.OperationResult{
										Operation:  op,
										Errors:     errs,
										Extensions: payload.Extensions,
									}
									if payload.Data != nil {
										res.Data = payload.Data
									}
									sink.Next(res)
								})
							},
							Error: func(err error) {
								client.Post(func() {
									if cancelled {
										return
									}
									sink.Next(model.OperationResult{
										Operation: op,
										Errors: []error{xerrors.NewExchangeError(
											"subscription", "subscription transport failure", err, nil)},
									})
								})
							},
							Complete: func() {
								client.Post(func() {
									if !cancelled {
										delete(active, op.Key)
									}
								})
							},
						})
						active[op.Key] = func() {
							cancelled = true
							if unsub != nil {
								unsub()
							}
						}
					})
				}

				upstreamSub := ops(stream.Sink[model.Operation]{
					Next: func(op model.Operation) {
						if op.Variant == model.VariantTeardown {
							if unsub, ok := active[op.Key]; ok {
								unsub()
								delete(active, op.Key)
								return
							}
							downstreamOps.Next(op)
							return
						}
						if op.Artifact == nil || op.Artifact.Kind != model.KindSubscription {
							downstreamOps.Next(op)
							return
						}
						start(op)
					},
					Error:    func(error) { downstreamOps.Complete() },
					Complete: downstreamOps.Complete,
				})

				return stream.Subscription{Unsubscribe: func() {
					for key, unsub := range active {
						unsub()
						delete(active, key)
					}
					if upstreamSub.Unsubscribe != nil {
						upstreamSub.Unsubscribe()
					}
					if forwardSub.Unsubscribe != nil {
						forwardSub.Unsubscribe()
					}
				}}
			}
		}
		return Instance{Name: "subscription", IO: io}
	}
}

// WebSocketClientConfig configures the hasura/go-graphql-client backed
// SubscriptionClient.
type WebSocketClientConfig struct {
	// URL is the websocket endpoint, e.g. "wss://host/graphql".
	URL string

	// ConnectionParams are sent in the connection_init message
	// (typically auth headers).
	ConnectionParams map[string]interface{}

	// Timeout bounds the websocket handshake and write calls. Zero means
	// a one-minute default.
	Timeout time.Duration
}

// wsClient adapts graphql.SubscriptionClient to the SubscriptionClient
// contract. The websocket run loop is started lazily on the first
// Subscribe.
type wsClient struct {
	mu      sync.Mutex
	client  *graphql.SubscriptionClient
	running bool
}

// NewWebSocketClient builds a SubscriptionClient speaking the
// graphql-transport-ws protocol over a single shared websocket
// connection.
func NewWebSocketClient(cfg WebSocketClientConfig) SubscriptionClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}
	inner := graphql.NewSubscriptionClient(cfg.URL).
		WithProtocol(graphql.GraphQLWS).
		WithTimeout(timeout)
	if cfg.ConnectionParams != nil {
		inner = inner.WithConnectionParams(cfg.ConnectionParams)
	}
	return &wsClient{client: inner}
}

func (c *wsClient) ensureRunning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	go func() {
		_ = c.client.Run()
	}()
}

func (c *wsClient) Subscribe(req SubscriptionRequest, obs SubscriptionObserver) func() {
	id, err := c.client.Exec(req.Query, req.Variables, func(message []byte, err error) error {
		if err != nil {
			if obs.Error != nil {
				obs.Error(err)
			}
			return nil
		}
		var data map[string]interface{}
		if err := json.Unmarshal(message, &data); err != nil {
			if obs.Error != nil {
				obs.Error(err)
			}
			return nil
		}
		if obs.Next != nil {
			obs.Next(SubscriptionPayload{Data: data})
		}
		return nil
	})
	if err != nil {
		if obs.Error != nil {
			obs.Error(err)
		}
		return func() {}
	}
	c.ensureRunning()
	return func() {
		_ = c.client.Unsubscribe(id)
	}
}
