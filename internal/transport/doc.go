// Package transport makes objects of one process callable from another.
//
// A Service listens on a unix socket and serves registered receivers with
// net/rpc using the JSON-RPC codec. Objects that must be addressed by
// identity (reporters) are exported into the service's object table and travel
// as Handles; only the owning service can resolve a Handle back to the object.
//
// Error values embedded in messages cross the boundary as ErrorEnvelopes. The
// receiving side rebuilds them from a registry of known kinds. A kind it does
// not know, or a value the sender could not marshal, comes back as an
// *UnknownError, which callers treat as "this value did not survive the trip".
// RemoteError is the description-only form that always survives.
//
// Failure taxonomy:
//   - ErrConnection: endpoint unreachable, connection dropped, or the peer
//     rejected a value it could not reconstruct
//   - any other error returned by Call is an application error from the peer
package transport
