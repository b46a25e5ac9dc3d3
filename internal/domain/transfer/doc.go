// Package transfer contains the core domain types of a broadcast image
// transfer.
//
// It defines the target Host, the per-host ReceiverHandle with its
// lifecycle status, the immutable Job describing one file to move, the
// per-job Result and the session-wide Summary, as well as the sentinel
// errors every layer uses to classify failures.
package transfer
