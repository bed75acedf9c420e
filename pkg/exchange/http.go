package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/klauspost/compress/gzip"

	"github.com/nbaertsch/gqlwire/pkg/model"
	"github.com/nbaertsch/gqlwire/pkg/stream"
	"github.com/nbaertsch/gqlwire/pkg/xerrors"
)

// HTTPConfig configures the http exchange.
type HTTPConfig struct {
	URL              string
	Headers          map[string]string
	Client           *http.Client
	CompressRequests bool
}

// HTTP POSTs `{operationName, query, variables}` as JSON to cfg.URL for
// every query/mutation operation; subscriptions and fragments pass
// through unchanged. One context.CancelFunc is tracked per operation
// key: a new request under the same key cancels the previous one, and a
// teardown cancels and forgets it. A cancelled request completes
// silently rather than surfacing an error.
func HTTP(cfg HTTPConfig) Builder {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return func(forward IO, client ClientHandle) Instance {
		io := func(ops stream.Source[model.Operation]) stream.Source[model.OperationResult] {
			return func(sink stream.Sink[model.OperationResult]) stream.Subscription {
				cancels := map[int64]context.CancelFunc{}
				downstreamOps := stream.MakeSubject[model.Operation]()

				forwardSub := forward(downstreamOps.Source)(stream.Sink[model.OperationResult]{
					Next:     sink.Next,
					Error:    sink.Error,
					Complete: sink.Complete,
				})

				upstreamSub := ops(stream.Sink[model.Operation]{
					Next: func(op model.Operation) {
						if op.Variant == model.VariantTeardown {
							if cancel, ok := cancels[op.Key]; ok {
								cancel()
								delete(cancels, op.Key)
							}
							downstreamOps.Next(op)
							return
						}
						if op.Artifact == nil || (op.Artifact.Kind != model.KindQuery && op.Artifact.Kind != model.KindMutation) {
							downstreamOps.Next(op)
							return
						}
						if cancel, ok := cancels[op.Key]; ok {
							cancel()
						}
						ctx, cancel := context.WithCancel(context.Background())
						cancels[op.Key] = cancel

						go func() {
							res, aborted := executeHTTP(ctx, cfg, op)
							if aborted {
								return
							}
							client.Post(func() { sink.Next(res) })
						}()
					},
					Error:    func(error) { downstreamOps.Complete() },
					Complete: downstreamOps.Complete,
				})

				return stream.Subscription{Unsubscribe: func() {
					for _, cancel := range cancels {
						cancel()
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
		return Instance{Name: "http", IO: io}
	}
}

type httpRequestBody struct {
	OperationName string                 `json:"operationName"`
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables"`
}

type httpResponseBody struct {
	Data       map[string]interface{}    `json:"data"`
	Errors     []model.GraphQLErrorEntry `json:"errors"`
	Extensions map[string]interface{}    `json:"extensions"`
}

func executeHTTP(ctx context.Context, cfg HTTPConfig, op model.Operation) (model.OperationResult, bool) {
	payload, err := json.Marshal(httpRequestBody{
		OperationName: op.Artifact.Name,
		Query:         op.Artifact.Body,
		Variables:     op.Variables,
	})
	if err != nil {
		return errorResult(op, "http", "failed to encode request body", err, nil), false
	}

	body := payload
	compressed := false
	if cfg.CompressRequests {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(payload); err != nil {
			return errorResult(op, "http", "failed to gzip request body", err, nil), false
		}
		gw.Close()
		body = buf.Bytes()
		compressed = true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return errorResult(op, "http", "failed to build request", err, nil), false
	}
	req.Header.Set("Content-Type", "application/json")
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := cfg.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return model.OperationResult{}, true
		}
		return errorResult(op, "http", "request failed", err, nil), false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorResult(op, "http", "non-2xx response", nil, map[string]interface{}{"statusCode": resp.StatusCode}), false
	}

	var parsed httpResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		if errors.Is(err, context.Canceled) {
			return model.OperationResult{}, true
		}
		return errorResult(op, "http", "failed to decode response body", err, nil), false
	}

	errs := make([]error, 0, len(parsed.Errors))
	for _, e := range parsed.Errors {
		locs := make([]xerrors.Location, len(e.Locations))
		for i, l := range e.Locations {
			locs[i] = xerrors.Location{Line: l.Line, Column: l.Column}
		}
		errs = append(errs, &xerrors.GraphQLError{Message: e.Message, Path: e.Path, Locations: locs, Extensions: e.Extensions})
	}

	res := model.OperationResult{
		Operation:  op,
		Errors:     errs,
		Extensions: parsed.Extensions,
	}
	if parsed.Data != nil {
		res.Data = parsed.Data
	}
	return res, false
}

func errorResult(op model.Operation, exchangeName, msg string, cause error, extensions map[string]interface{}) model.OperationResult {
	return model.OperationResult{
		Operation: op,
		Errors:    []error{xerrors.NewExchangeError(exchangeName, msg, cause, extensions)},
	}
}
