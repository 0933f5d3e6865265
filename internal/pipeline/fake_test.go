package pipeline

import (
	"strings"
	"sync"

	"codeberg.org/mutker/harvester/internal/harvest"
)

// fakeSubmitter records submissions and answers XHRs synchronously from a
// queue of statuses; an empty queue answers 200.
type fakeSubmitter struct {
	mu       sync.Mutex
	statuses []int
	xhrs     []harvest.Request
	beacons  []harvest.Request
	images   []string
}

func (f *fakeSubmitter) XHRUsable() bool       { return true }
func (f *fakeSubmitter) BeaconSupported() bool { return true }

func (f *fakeSubmitter) XHR(req harvest.Request, done func(harvest.Response)) bool {
	f.mu.Lock()
	f.xhrs = append(f.xhrs, req)
	status := 200
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		f.statuses = f.statuses[1:]
	}
	f.mu.Unlock()

	done(harvest.Response{Status: status})
	return true
}

func (f *fakeSubmitter) Beacon(req harvest.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beacons = append(f.beacons, req)
	return true
}

func (f *fakeSubmitter) Image(url string, _ bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, url)
	return true
}

// sent returns the XHRs posted to endpoint.
func (f *fakeSubmitter) sent(endpoint string) []harvest.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filterRequests(f.xhrs, endpoint)
}

// beaconed returns the beacons posted to endpoint.
func (f *fakeSubmitter) beaconed(endpoint string) []harvest.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filterRequests(f.beacons, endpoint)
}

func filterRequests(reqs []harvest.Request, endpoint string) []harvest.Request {
	var out []harvest.Request
	for _, r := range reqs {
		if strings.Contains(r.URL, "/"+endpoint+"/1/") {
			out = append(out, r)
		}
	}
	return out
}
