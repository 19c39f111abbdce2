// Package cachestatus builds the Cache-Status response header (RFC 9211).
package cachestatus

import "fmt"

const CacheName = "Offline-Cache"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The request method's semantics require the request to be forwarded.
	FwdMethod FwdReason = "method"

	// The cache did not contain any responses that matched the request URI.
	FwdUriMiss FwdReason = "uri-miss"

	// The cache did not use a stored response for this request.
	FwdMiss FwdReason = "miss"

	// The cache was able to select a fresh response for the
	// request, but the request's semantics did not allow its use.
	FwdRequest FwdReason = "request"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// Status code of the forwarded request, if any.
	FwdStatus int
	// The response was stored in the cache.
	Stored bool
	Detail string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs *CacheStatus) IsHit() bool {
	return cs.Status == StatusHit
}

func (cs CacheStatus) String() string {
	status := CacheName
	switch cs.Status {
	case StatusHit:
		status += "; hit"
	case StatusFwd:
		status += "; fwd=" + string(cs.FwdReason)
		if cs.FwdStatus != 0 {
			status += fmt.Sprintf("; fwd-status=%d", cs.FwdStatus)
		}
	}
	if cs.Stored {
		status += "; stored"
	}
	if cs.Detail != "" {
		status += "; detail=" + cs.Detail
	}
	return status
}
