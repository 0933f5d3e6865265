package pipeline

import (
	"encoding/hex"
	"regexp"
	"strings"
	"sync"

	"codeberg.org/mutker/harvester/internal/aggregator"
	"codeberg.org/mutker/harvester/internal/bus"
	"codeberg.org/mutker/harvester/internal/harvest"
	"codeberg.org/mutker/harvester/internal/wire"
	"github.com/zeebo/blake3"
)

// Aggregator types owned by the errors feature.
const (
	typeError         = "err"
	typeInternalError = "ierr"
	typeAjax          = "xhr"
	typeSupportMetric = "sm"
	typeCustomMetric  = "cm"
)

var errorTypes = []string{typeError, typeInternalError, typeAjax}

// ErrorFact is the structured form of an "err" fact.
type ErrorFact struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// Trailing ":line" or ":line:column" of a stack frame.
var frameLocation = regexp.MustCompile(`(:\d+)+\)?$`)

// canonicalStack drops line and column numbers so that the same error
// raised from a rebuilt bundle still lands in one bucket.
func canonicalStack(stack string) string {
	lines := strings.Split(stack, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, frameLocation.ReplaceAllString(line, ""))
	}
	return strings.Join(out, "\n")
}

// fingerprint hashes its parts with BLAKE3 and returns the first 8 bytes
// as hex.
func fingerprint(parts ...string) string {
	h := blake3.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}

// errorsFeature aggregates errors and ajax metrics for the jserrors
// endpoint.
type errorsFeature struct {
	p *Pipeline

	mu               sync.Mutex
	pageviewReported bool
	retrySnapshot    map[string][]*aggregator.Bucket
}

func newErrorsFeature(p *Pipeline) *errorsFeature {
	f := &errorsFeature{p: p}

	p.harvester.On(EndpointErrors, f.payload)
	p.harvester.On(EndpointErrors, f.metricsPayload)

	return f
}

func (f *errorsFeature) register(b *bus.Bus) {
	b.RegisterHandler(FactError, f.onError, bus.GroupFeature)
	b.RegisterHandler(FactAjax, f.onAjax, bus.GroupFeature)
	b.On(bus.InternalError, f.onInternalError)
}

// onError handles err facts: (error, time, customAttributes).
func (f *errorsFeature) onError(_ *bus.Context, args []any) error {
	fact, err := errorFactFrom(argAt(args, 0))
	if err != nil {
		return err
	}
	t, _ := numberArg(args, 1)
	custom, _ := mapArg(args, 2)

	f.storeError(typeError, fact, t, custom)
	return nil
}

// onInternalError turns handler faults into ierr buckets.
func (f *errorsFeature) onInternalError(_ *bus.Context, args []any) error {
	err, _ := argAt(args, 0).(error)
	if err == nil {
		return nil
	}
	typ, _ := stringArg(args, 1)

	f.storeError(typeInternalError, &ErrorFact{
		Name:    "HandlerError",
		Message: err.Error(),
		Stack:   typ,
	}, f.p.sinceStart(), nil)

	return nil
}

func (f *errorsFeature) storeError(typ string, fact *ErrorFact, t float64, custom map[string]any) {
	name := fact.Name
	if name == "" {
		name = "Error"
	}
	stack := canonicalStack(fact.Stack)
	stackHash := fingerprint(stack)

	params := map[string]any{
		"exceptionClass": name,
		"message":        fact.Message,
		"stackHash":      stackHash,
		"request_uri":    f.p.pageURI(),
	}
	if fact.Stack != "" {
		params["stack_trace"] = fact.Stack
	}

	attrs := f.p.customAttributes(custom)
	bucketName := fingerprint(name, fact.Message, stack)
	if len(attrs) > 0 {
		encoded, err := wire.Stringify(attrs)
		if err == nil {
			bucketName += ":" + fingerprint(encoded)
		}
	}

	f.mu.Lock()
	if !f.pageviewReported {
		params["pageview"] = 1
	}
	f.mu.Unlock()

	f.p.agg.Store(typ, bucketName, params, map[string]float64{"time": t}, attrs)
}

// onAjax handles xhr facts: (params, metrics).
func (f *errorsFeature) onAjax(_ *bus.Context, args []any) error {
	params, ok := mapArg(args, 0)
	if !ok {
		return invalidFact(FactAjax, "params must be an object")
	}
	raw, _ := mapArg(args, 1)

	metrics := make(map[string]float64, len(raw))
	for k, v := range raw {
		if v, ok := toNumber(v); ok {
			metrics[k] = v
		}
	}

	name, err := wire.Stringify(params)
	if err != nil {
		return invalidFact(FactAjax, err.Error())
	}

	f.p.agg.Store(typeAjax, name, params, metrics, nil)
	return nil
}

// payload takes the err, ierr and xhr buckets for a jserrors harvest.
func (f *errorsFeature) payload(opts harvest.PayloadOptions) *harvest.Payload {
	taken := f.p.agg.Take(errorTypes...)
	if taken == nil {
		return nil
	}

	f.mu.Lock()
	if opts.Retry {
		f.retrySnapshot = taken
	}
	query := map[string]string{}
	if !f.pageviewReported {
		query["pve"] = "1"
		f.pageviewReported = true
	}
	f.mu.Unlock()

	body := make(map[string]any, len(taken))
	for _, typ := range errorTypes {
		if buckets := taken[typ]; len(buckets) > 0 {
			body[typ] = encodeBuckets(buckets, f.p.harvester.Obfuscator().String)
		}
	}

	return &harvest.Payload{Body: body, Query: query}
}

// metricsPayload delivers supportability and custom metrics, on teardown
// only.
func (f *errorsFeature) metricsPayload(opts harvest.PayloadOptions) *harvest.Payload {
	if !opts.Unload {
		return nil
	}

	taken := f.p.agg.Take(typeSupportMetric, typeCustomMetric)
	if taken == nil {
		return nil
	}

	body := make(map[string]any, len(taken))
	for _, typ := range []string{typeSupportMetric, typeCustomMetric} {
		if buckets := taken[typ]; len(buckets) > 0 {
			body[typ] = encodeBuckets(buckets, f.p.harvester.Obfuscator().String)
		}
	}

	return &harvest.Payload{Body: body}
}

// onFinished merges the retry snapshot back when the collector asked for
// the data again.
func (f *errorsFeature) onFinished(r harvest.Result) {
	f.mu.Lock()
	snapshot := f.retrySnapshot
	f.retrySnapshot = nil
	f.mu.Unlock()

	if !r.Sent || !r.Retry || snapshot == nil {
		return
	}

	for _, typ := range errorTypes {
		f.p.agg.MergeBuckets(snapshot[typ])
	}
}

func errorFactFrom(v any) (*ErrorFact, error) {
	switch e := v.(type) {
	case *ErrorFact:
		if e == nil {
			return nil, invalidFact(FactError, "nil error")
		}
		return e, nil
	case ErrorFact:
		return &e, nil
	case error:
		return &ErrorFact{Name: "Error", Message: e.Error()}, nil
	case string:
		return &ErrorFact{Name: "Error", Message: e}, nil
	case map[string]any:
		var fact ErrorFact
		if err := decodeArg(e, &fact); err != nil {
			return nil, err
		}
		return &fact, nil
	default:
		return nil, invalidFact(FactError, "unsupported error value")
	}
}
