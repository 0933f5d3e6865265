package harvest_test

import (
	"sync"

	"codeberg.org/mutker/harvester/internal/harvest"
)

// fakeSubmitter records submissions and answers XHRs synchronously from a
// queue of responses; an empty queue answers 200.
type fakeSubmitter struct {
	mu        sync.Mutex
	xhrUsable bool
	beacon    bool
	beaconOK  bool
	responses []harvest.Response
	xhrs      []harvest.Request
	beacons   []harvest.Request
	images    []string
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{xhrUsable: true, beacon: true, beaconOK: true}
}

func (f *fakeSubmitter) XHRUsable() bool       { return f.xhrUsable }
func (f *fakeSubmitter) BeaconSupported() bool { return f.beacon }

func (f *fakeSubmitter) XHR(req harvest.Request, done func(harvest.Response)) bool {
	f.mu.Lock()
	f.xhrs = append(f.xhrs, req)
	resp := harvest.Response{Status: 200}
	if len(f.responses) > 0 {
		resp = f.responses[0]
		f.responses = f.responses[1:]
	}
	f.mu.Unlock()

	done(resp)
	return true
}

func (f *fakeSubmitter) Beacon(req harvest.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beacons = append(f.beacons, req)
	return f.beaconOK
}

func (f *fakeSubmitter) Image(url string, _ bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, url)
	return true
}

func (f *fakeSubmitter) xhrCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.xhrs)
}
