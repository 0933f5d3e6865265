package harvest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/harvester/internal/errors"
	"codeberg.org/mutker/harvester/internal/logger"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxResponseBytes      = 64 << 10
)

// HTTPSubmitter delivers over net/http. Every request runs on its own
// goroutine; Wait blocks until in-flight requests finish.
type HTTPSubmitter struct {
	client          *http.Client
	xhrUsable       bool
	beaconSupported bool
	log             logger.Logger

	wg sync.WaitGroup
}

type HTTPOption func(*HTTPSubmitter)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSubmitter) {
		if c != nil {
			s.client = c
		}
	}
}

// WithCapabilities sets which transports the submitter reports as usable.
func WithCapabilities(xhrUsable, beaconSupported bool) HTTPOption {
	return func(s *HTTPSubmitter) {
		s.xhrUsable = xhrUsable
		s.beaconSupported = beaconSupported
	}
}

func WithHTTPLogger(l logger.Logger) HTTPOption {
	return func(s *HTTPSubmitter) {
		if l != nil {
			s.log = l
		}
	}
}

func NewHTTPSubmitter(opts ...HTTPOption) *HTTPSubmitter {
	s := &HTTPSubmitter{
		client:          &http.Client{Timeout: defaultRequestTimeout},
		xhrUsable:       true,
		beaconSupported: true,
		log:             logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPSubmitter) XHRUsable() bool       { return s.xhrUsable }
func (s *HTTPSubmitter) BeaconSupported() bool { return s.beaconSupported }

func (s *HTTPSubmitter) XHR(req Request, done func(Response)) bool {
	httpReq, err := newPost(req)
	if err != nil {
		s.log.Error().Err(err).Str("url", req.URL).Msg("Failed to build request")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp := s.do(httpReq, true)
		if done != nil {
			done(resp)
		}
	}()

	return true
}

func (s *HTTPSubmitter) Beacon(req Request) bool {
	httpReq, err := newPost(req)
	if err != nil {
		s.log.Error().Err(err).Str("url", req.URL).Msg("Failed to build beacon")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.do(httpReq, false)
	}()

	return true
}

func (s *HTTPSubmitter) Image(url string, _ bool) bool {
	httpReq, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		s.log.Error().Err(err).Str("url", url).Msg("Failed to build image request")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.do(httpReq, false)
	}()

	return true
}

// Wait blocks until all started requests have finished or ctx is done.
func (s *HTTPSubmitter) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return errors.New().Wrap(errors.ErrTimeout, ctx.Err())
	}
}

func (s *HTTPSubmitter) do(req *http.Request, readBody bool) Response {
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Debug().Err(err).Str("url", req.URL.Redacted()).Msg("Request failed")
		return Response{Err: errors.New().Wrap(ErrTransport, err)}
	}
	defer resp.Body.Close()

	out := Response{Status: resp.StatusCode}
	if readBody {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err == nil {
			out.Body = string(body)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	return out
}

func newPost(req Request) (*http.Request, error) {
	httpReq, err := http.NewRequest(http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, errors.New().Wrap(ErrBuildRequest, err)
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	httpReq.Header.Set("Content-Type", contentType)
	if req.ContentEncoding != "" {
		httpReq.Header.Set("Content-Encoding", req.ContentEncoding)
	}

	return httpReq, nil
}
