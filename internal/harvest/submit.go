package harvest

// Method is the transport used for one submission.
type Method uint8

const (
	MethodNone Method = iota
	// MethodXHR posts the body and reports the response.
	MethodXHR
	// MethodBeacon posts the body fire-and-forget; it survives teardown.
	MethodBeacon
	// MethodImage encodes everything into a GET URL.
	MethodImage
)

func (m Method) String() string {
	switch m {
	case MethodXHR:
		return "xhr"
	case MethodBeacon:
		return "beacon"
	case MethodImage:
		return "image"
	default:
		return "none"
	}
}

// UsesBody reports whether the method carries a request body.
func (m Method) UsesBody() bool {
	return m == MethodXHR || m == MethodBeacon
}

// Request is a body-carrying submission.
type Request struct {
	URL             string
	Body            []byte
	ContentType     string
	ContentEncoding string
}

// Response is the outcome of an XHR submission. Err is set when no HTTP
// response was received.
type Response struct {
	Status int
	Body   string
	Err    error
}

// Submitter is the transport the harvester delivers through.
type Submitter interface {
	XHRUsable() bool
	BeaconSupported() bool
	// XHR starts a request and reports whether it was started. done is
	// called once with the response, possibly on another goroutine.
	XHR(req Request, done func(Response)) bool
	// Beacon queues a request and reports whether it was accepted.
	Beacon(req Request) bool
	// Image issues a GET for url and reports whether it was started.
	Image(url string, unload bool) bool
}

// Endpoints that may fall back to an image GET outside of teardown.
var imageFallbackEndpoints = map[string]bool{
	"events":   true,
	"jserrors": true,
}

// SubmitMethodFor picks the transport for endpoint. Callers that need the
// response body only get XHR; teardown prefers beacon; everything else
// prefers XHR.
func SubmitMethodFor(s Submitter, endpoint string, opts Options) Method {
	switch {
	case opts.NeedResponse:
		if s.XHRUsable() {
			return MethodXHR
		}
		return MethodNone
	case opts.Unload:
		if s.BeaconSupported() {
			return MethodBeacon
		}
		return MethodImage
	case s.XHRUsable():
		return MethodXHR
	case imageFallbackEndpoints[endpoint]:
		return MethodImage
	default:
		return MethodNone
	}
}
