// Command blobgate serves a blob store over HTTP. A GET of "/some-key"
// returns the blob stored at "some-key", a PUT stores the request body there
// and a DELETE removes it. See package gateway for the details of the
// protocol.
//
// Blobs are kept in one of several backends, chosen in the configuration:
// a cache server (see command cacheserver), a directory on disk, a bolt or
// sqlite database, an S3 bucket, a DynamoDB table, another blobgate, or
// memory. A second, faster backend can be put in front of the first.
//
// The configuration file is in rjson format, for example:
//
//	{
//		listen: ":3000"
//		backend: {
//			type: "s3"
//			profile: "blobgate"
//			region: "eu-west-1"
//			bucket: "blobs"
//		}
//		fast: {
//			type: "bolt"
//			path: "$HOME/lib/blobgate/fast.db"
//		}
//	}
//
// Every property can be overridden by an environment variable prefixed with
// BLOBGATE_ (BLOBGATE_FAST_ for the fast backend), e.g., BLOBGATE_BACKEND=disk
// or BLOBGATE_CACHE_HOST=cache.internal.
package main // import "github.com/nicolagi/blobgate/cmd/blobgate"
