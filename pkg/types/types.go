package types

import "net/url"

// RequestContext is the normalized representation of an inbound request that
// the defense pipeline inspects. It is built once per request by the server
// layer and treated as read-only by every component.
type RequestContext struct {
	Method    string
	Path      string
	Query     url.Values
	Headers   map[string][]string
	Body      []byte
	ClientIP  string
	UserAgent string
	ActorID   string
}
