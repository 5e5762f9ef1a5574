// Package errors provides structured error handling for MnemoLite.
//
// Every error carries a Kind drawn from a closed taxonomy so callers can
// separate operator-actionable failures (store down, breaker open) from
// caller-actionable ones (bad request, not found) without string matching.
package errors

// Kind classifies an error for propagation and presentation.
type Kind string

const (
	// KindBadRequest indicates a caller-side problem: invalid identifier,
	// unsupported filter, dimension mismatch at the API boundary.
	KindBadRequest Kind = "bad_request"

	// KindNotFound indicates the target entity does not exist or is tombstoned.
	KindNotFound Kind = "not_found"

	// KindIntegrityConflict indicates a uniqueness or logical-invariant
	// violation, e.g. a chunk fingerprint collision on differing content.
	KindIntegrityConflict Kind = "integrity_conflict"

	// KindStoreUnavailable indicates a pool timeout, disconnect, or a
	// transaction rollback from a transient store error.
	KindStoreUnavailable Kind = "store_unavailable"

	// KindEmbedUnavailable indicates the embedding channel failed.
	KindEmbedUnavailable Kind = "embed_unavailable"

	// KindBreakerOpen indicates the call was rejected by a circuit breaker.
	KindBreakerOpen Kind = "breaker_open"

	// KindDeadlineExceeded indicates the per-request deadline was reached.
	KindDeadlineExceeded Kind = "deadline_exceeded"

	// KindRetrievalUnavailable indicates both lexical and vector channels failed.
	KindRetrievalUnavailable Kind = "retrieval_unavailable"

	// KindParse indicates a per-file parse failure during indexing.
	// Never surfaces as a request failure; recorded in indexing_errors.
	KindParse Kind = "parse"

	// KindEncoding indicates a per-file encoding failure during indexing.
	KindEncoding Kind = "encoding"

	// KindInternal indicates an unexpected internal error.
	KindInternal Kind = "internal"
)

// retryableKinds are transient failures worth retrying.
var retryableKinds = map[Kind]bool{
	KindStoreUnavailable: true,
	KindEmbedUnavailable: true,
}

// callerKinds are failures the caller can fix.
var callerKinds = map[Kind]bool{
	KindBadRequest: true,
	KindNotFound:   true,
}

// Retryable reports whether errors of this kind are transient.
func (k Kind) Retryable() bool { return retryableKinds[k] }

// CallerFault reports whether errors of this kind are caller-actionable.
func (k Kind) CallerFault() bool { return callerKinds[k] }
