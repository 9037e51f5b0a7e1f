package util

import "errors"

// MsgReingestRequired is shown to users when a paper has nothing to rebuild its
// lexical model from.
const MsgReingestRequired = "No text chunks or lexical state found for this paper. Re-ingest required."

var (
	ErrNoExtractableText   = errors.New("no extractable text")
	ErrMissingCredential   = errors.New("missing credential")
	ErrNamespaceNotFound   = errors.New("namespace not found for user")
	ErrLexicalStateMissing = errors.New("no text chunks or lexical state found for paper")
	ErrMalformedDecision   = errors.New("malformed routing decision")

	ErrQuotaExhausted = errors.New("provider quota exhausted")
	ErrRateLimited    = errors.New("provider rate limited")
	ErrTransient      = errors.New("transient provider error")
	ErrPermanent      = errors.New("permanent provider error")
	ErrContextTooLong = errors.New("context too long")
)
