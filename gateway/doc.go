// Package gateway exposes a storage.Store over HTTP as a flat namespace of
// blobs.
//
// Requests are GETs, PUTs and DELETEs to paths of the form "/key". The key is
// the path with its leading slash removed; it must be a single path segment,
// so "/a/b", "/.." and "/" are refused. A GET answers 200 and the blob, or 404
// if there's nothing stored at the key. A PUT stores the request body,
// replacing any previous blob, and answers 200 "OK"; an empty body is refused
// with 400 "file missing" and nothing is stored. A DELETE answers 200 "OK"
// whether or not something was stored. Any other method or path answers 404
// "No route defined for " followed by the path.
//
// Failures answer with the status the error carries, 500 if it carries none,
// and the error text as the body.
package gateway
