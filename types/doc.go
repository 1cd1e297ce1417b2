// Package types provides the shared vocabulary for the router, importing no
// other package of this module: messages, tool schemas, token usage, the canonical request/response
// shapes, and the single discriminated error type every stage maps its
// failures onto.
package types
