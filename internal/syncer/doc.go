// Package syncer keeps peer sessions that share a store eventually
// consistent.
//
// Every local mutation is wrapped in an Envelope stamped with the device id
// and a logical timestamp and published on a Transport. Inbound envelopes are
// dropped when they originate from this device or are not newer than the
// watermark of the collection they touch; the rest are applied through an
// Applier with whole-record last-writer-wins.
package syncer
