package kshim

import (
	"github.com/snu-csl/go-bius/internal/request"
	"github.com/snu-csl/go-bius/internal/wire"
)

// newTestBlockRequest builds a minimal block request for tests that only
// care about tracking/release bookkeeping, not actual I/O.
func newTestBlockRequest() *request.Request {
	frag := request.Fragment{Page: make([]byte, 4096), Offset: 0, Length: 4096}
	return request.NewBlockRequest(wire.Write, 0, 4096, []request.Fragment{frag}, true, func(*request.Request) {})
}
