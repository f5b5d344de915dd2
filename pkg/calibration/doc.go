// Package calibration validates and issues pH calibration commands and decides
// when a stream of readings has settled enough to commit a calibration point.
//
// The workflow for one point is:
//
//	Idle -> Validating -> Sending -> AwaitingSettle -> Committing -> Done
//
// Validation failures end in Rejected and never touch the device. A settle
// that runs past its deadline ends in SettleTimeout, which callers may retry
// with a wider tolerance.
package calibration
