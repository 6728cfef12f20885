package fulfillment

import "errors"

// ErrRestoreFailed means a stock restore could not be applied while
// reversing an approved payment. Treated as fatal: the payment state
// write does not proceed, so ledger and state never diverge.
var ErrRestoreFailed = errors.New("stock restore failed")
