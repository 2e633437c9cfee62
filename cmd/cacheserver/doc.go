// Command cacheserver is the cache service blobgate uses as its default
// backend. It speaks the protocol of package message over TCP and keeps blobs
// in memory or in a bolt database. (The functionality is mostly in this
// module's cache/server package.)
//
// The configuration file is in rjson format and can be overridden with
// CACHESERVER_ environment variables:
//
//	{
//		listen: ":6660"
//		store: "bolt"
//		path: "$HOME/lib/blobgate/cache.db"
//	}
package main // import "github.com/nicolagi/blobgate/cmd/cacheserver"
