// Package harvest turns feature payloads into collector requests: it picks
// a transport, builds the URL and body, obfuscates strings and classifies
// the collector's answer. Scheduler drives periodic harvests per endpoint.
package harvest

import (
	"bytes"
	"crypto/rand"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/harvester/internal/clock"
	"codeberg.org/mutker/harvester/internal/errors"
	"codeberg.org/mutker/harvester/internal/logger"
	"codeberg.org/mutker/harvester/internal/wire"
	"github.com/klauspost/compress/gzip"
	"github.com/oklog/ulid/v2"
)

// Payload is what a feature hands over for one submission. Body values are
// strings, wire.Blob or JSON-encodable values; Query is appended to the URL.
type Payload struct {
	Body  map[string]any
	Query map[string]string
	// OnResult, when set, receives the result of this payload alone. A
	// scheduler calls it before its own OnFinished.
	OnResult func(Result)
}

// PayloadOptions tells a producer how its payload will travel. Retry is set
// when the transport reports a result, so the producer should keep a copy
// of what it hands out until the result arrives.
type PayloadOptions struct {
	Retry  bool
	Unload bool
}

// Producer builds a payload for one endpoint, or nil when it has nothing.
type Producer func(PayloadOptions) *Payload

// Options describe the circumstances of a send.
type Options struct {
	Unload       bool
	NeedResponse bool
}

// Result is the classified outcome of a submission.
type Result struct {
	Sent bool
	// Retry is set when the collector asked for the data again.
	Retry bool
	// Delay overrides the scheduler's retry delay when non-zero.
	Delay        time.Duration
	Status       int
	ResponseText string
}

// Delivery describes one finished submission for observers.
type Delivery struct {
	Endpoint string
	Method   Method
	Bytes    int
	Unload   bool
	Result   Result
	Err      error
	Duration time.Duration
}

type Option func(*Harvester)

func WithClock(c clock.Clock) Option {
	return func(h *Harvester) {
		if c != nil {
			h.clock = c
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(h *Harvester) {
		if l != nil {
			h.log = l
		}
	}
}

// WithObserver is called after every submission.
func WithObserver(fn func(Delivery)) Option {
	return func(h *Harvester) {
		h.observer = fn
	}
}

// Harvester sends payloads to the collector.
type Harvester struct {
	cfg        Config
	submitter  Submitter
	obfuscator *Obfuscator
	clock      clock.Clock
	log        logger.Logger
	observer   func(Delivery)

	start time.Time
	ptid  string

	mu        sync.RWMutex
	producers map[string][]Producer
	endpoints []string
}

// New builds a Harvester delivering through submitter.
func New(cfg Config, submitter Submitter, opts ...Option) (*Harvester, error) {
	if submitter == nil {
		return nil, errors.New().WithMessage(ErrInvalidConfig, "harvest: nil submitter")
	}

	obfuscator, err := NewObfuscator(cfg.ObfuscationRules, cfg.PageURL)
	if err != nil {
		return nil, err
	}

	h := &Harvester{
		cfg:        cfg,
		submitter:  submitter,
		obfuscator: obfuscator,
		clock:      clock.Real(),
		log:        logger.Nop(),
		producers:  make(map[string][]Producer),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.start = h.clock.Now()
	h.ptid = newPageTraceID(h.start)

	return h, nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newPageTraceID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// PageTraceID returns the id reported as ptid.
func (h *Harvester) PageTraceID() string {
	return h.ptid
}

func (h *Harvester) Obfuscator() *Obfuscator {
	return h.obfuscator
}

func (h *Harvester) Submitter() Submitter {
	return h.submitter
}

// On registers a producer for endpoint. SendX merges all of an endpoint's
// producers into one payload.
func (h *Harvester) On(endpoint string, fn Producer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.producers[endpoint]; !ok {
		h.endpoints = append(h.endpoints, endpoint)
	}
	h.producers[endpoint] = append(h.producers[endpoint], fn)
}

// createPayload merges every producer's body and query. Later producers
// overwrite earlier keys. Returns nil when no producer had anything.
func (h *Harvester) createPayload(endpoint string, opts PayloadOptions) *Payload {
	h.mu.RLock()
	producers := append([]Producer(nil), h.producers[endpoint]...)
	h.mu.RUnlock()

	var out *Payload
	for _, produce := range producers {
		p := produce(opts)
		if p == nil {
			continue
		}
		if out == nil {
			out = &Payload{}
		}
		for k, v := range p.Body {
			if out.Body == nil {
				out.Body = make(map[string]any)
			}
			out.Body[k] = v
		}
		for k, v := range p.Query {
			if out.Query == nil {
				out.Query = make(map[string]string)
			}
			out.Query[k] = v
		}
	}

	return out
}

// SendX collects the endpoint's producers and sends the merged payload.
// It returns false without calling done when no transport fits.
func (h *Harvester) SendX(endpoint string, opts Options, done func(Result)) bool {
	method := SubmitMethodFor(h.submitter, endpoint, opts)
	if method == MethodNone {
		return false
	}

	payload := h.createPayload(endpoint, PayloadOptions{
		Retry:  method == MethodXHR,
		Unload: opts.Unload,
	})

	return h.Send(endpoint, payload, opts, method, done)
}

// SendFinal flushes every endpoint with registered producers as a teardown
// send.
func (h *Harvester) SendFinal() {
	h.mu.RLock()
	endpoints := append([]string(nil), h.endpoints...)
	h.mu.RUnlock()

	for _, endpoint := range endpoints {
		h.SendX(endpoint, Options{Unload: true}, nil)
	}
}

// Send submits one payload. MethodNone selects the method from opts. done
// receives the classified result: asynchronously for XHR, before Send
// returns for the other methods.
func (h *Harvester) Send(endpoint string, payload *Payload, opts Options, method Method, done func(Result)) bool {
	finish := func(r Result) {
		if done != nil {
			done(r)
		}
	}

	if h.cfg.Beacon == "" || payload == nil || len(payload.Body) == 0 {
		finish(Result{Sent: false})
		return false
	}

	if method == MethodNone {
		method = SubmitMethodFor(h.submitter, endpoint, opts)
		if method == MethodNone {
			return false
		}
	}

	payload = h.obfuscator.Payload(payload)

	baseURL := h.URL(endpoint) + h.BaseQuery()
	if len(payload.Query) > 0 {
		baseURL += wire.EncodeObj(queryObject(payload.Query), h.cfg.MaxBytes)
	}

	started := h.clock.Now()
	report := func(size int, m Method, r Result, err error) {
		h.log.Debug().
			Str("endpoint", endpoint).
			Str("method", m.String()).
			Int("bytes", size).
			Bool("sent", r.Sent).
			Bool("retry", r.Retry).
			Int("status", r.Status).
			Msg("Harvest submitted")

		if h.observer != nil {
			h.observer(Delivery{
				Endpoint: endpoint,
				Method:   m,
				Bytes:    size,
				Unload:   opts.Unload,
				Result:   r,
				Err:      err,
				Duration: h.clock.Now().Sub(started),
			})
		}
	}

	if !method.UsesBody() {
		fullURL := baseURL + wire.EncodeObj(payload.Body, h.cfg.MaxBytes)
		ok := h.submitter.Image(fullURL, opts.Unload)
		report(len(fullURL), MethodImage, Result{Sent: ok}, nil)
		finish(Result{Sent: ok})
		return ok
	}

	req, err := h.request(baseURL, payload.Body)
	if err != nil {
		h.log.Error().Err(err).Str("endpoint", endpoint).Msg("Failed to encode harvest body")
		report(0, method, Result{}, err)
		finish(Result{Sent: false})
		return false
	}

	if method == MethodXHR {
		ok := h.submitter.XHR(req, func(resp Response) {
			r := h.classify(resp, opts)
			report(len(req.Body), MethodXHR, r, resp.Err)
			finish(r)
		})
		if !ok {
			report(len(req.Body), MethodXHR, Result{}, nil)
			finish(Result{Sent: false})
		}
		return ok
	}

	if h.submitter.Beacon(req) {
		report(len(req.Body), MethodBeacon, Result{Sent: true}, nil)
		finish(Result{Sent: true})
		return true
	}

	// A rejected beacon is retried once as an image GET.
	fullURL := baseURL + wire.EncodeObj(payload.Body, h.cfg.MaxBytes)
	ok := h.submitter.Image(fullURL, opts.Unload)
	report(len(fullURL), MethodImage, Result{Sent: ok}, nil)
	finish(Result{Sent: ok})

	return ok
}

// classify maps an XHR response onto a Result. 429 asks for a retry after
// TooManyRequestsDelay; 408, 500 and 503 ask for a retry after the
// scheduler's default delay.
func (h *Harvester) classify(resp Response, opts Options) Result {
	if resp.Err != nil {
		return Result{Sent: false}
	}

	r := Result{Sent: true, Status: resp.Status}
	switch resp.Status {
	case 429:
		r.Retry = true
		r.Delay = h.cfg.TooManyRequestsDelay
	case 408, 500, 503:
		r.Retry = true
	}
	if opts.NeedResponse {
		r.ResponseText = resp.Body
	}

	return r
}

func (h *Harvester) request(target string, body map[string]any) (Request, error) {
	data, contentType, err := encodeBody(body)
	if err != nil {
		return Request{}, err
	}

	req := Request{URL: target, Body: data, ContentType: contentType}
	if h.cfg.Compress {
		compressed, err := gzipBytes(data)
		if err != nil {
			return Request{}, err
		}
		req.Body = compressed
		req.ContentEncoding = "gzip"
	}

	return req, nil
}

// encodeBody sends a body made only of the raw events key as-is and
// everything else as JSON.
func encodeBody(body map[string]any) ([]byte, string, error) {
	if raw, ok := body[rawBodyKey]; ok && len(body) == 1 {
		switch v := raw.(type) {
		case wire.Blob:
			return []byte(v), "text/plain", nil
		case string:
			return []byte(v), "text/plain", nil
		}
	}

	data, err := wire.Marshal(body)
	if err != nil {
		return nil, "", errors.New().Wrap(ErrEncodeBody, err)
	}

	return data, "application/json", nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, errors.New().Wrap(ErrCompressBody, err)
	}
	if err := zw.Close(); err != nil {
		return nil, errors.New().Wrap(ErrCompressBody, err)
	}
	return buf.Bytes(), nil
}

// URL returns scheme://beacon/endpoint/1/licenseKey.
func (h *Harvester) URL(endpoint string) string {
	return h.cfg.scheme() + "://" + h.cfg.Beacon + "/" + endpoint + "/1/" + h.cfg.LicenseKey
}

// BaseQuery returns the query parameters every request carries.
func (h *Harvester) BaseQuery() string {
	ck := "0"
	if h.cfg.CookiesEnabled {
		ck = "1"
	}
	rst := h.clock.Now().Sub(h.start).Milliseconds()

	var b strings.Builder
	b.WriteString("?a=" + h.cfg.AppID)
	b.WriteString(wire.Param("v", h.cfg.version()))
	b.WriteString(h.transactionParam())
	b.WriteString("&rst=" + strconv.FormatInt(rst, 10))
	b.WriteString("&ck=" + ck)
	b.WriteString(wire.Param("ref", h.obfuscator.String(CleanURL(h.cfg.PageURL))))
	b.WriteString(wire.Param("ptid", h.ptid))

	return b.String()
}

func (h *Harvester) transactionParam() string {
	if h.cfg.ObfuscatedTransactionName != "" {
		return wire.Param("to", h.cfg.ObfuscatedTransactionName)
	}
	name := h.cfg.TransactionName
	if name == "" {
		name = "Unnamed Transaction"
	}
	return wire.Param("t", name)
}

// CleanURL drops the query string and fragment.
func CleanURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

func queryObject(q map[string]string) map[string]any {
	out := make(map[string]any, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}
