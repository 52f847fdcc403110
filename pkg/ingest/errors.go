package ingest

import "errors"

// ErrClaimFailed means the ledger could not be reached while claiming the
// event. Nothing was claimed, so provider redelivery is safe.
var ErrClaimFailed = errors.New("ingest: failed to claim event")
