// Package connectivity turns host network signals into a two-state
// Online/Offline machine with edge-only transition events.
//
// Each Source reports under its own name. The monitor is Online when every
// expected signal has reported true; a signal that has not reported yet
// counts as offline. With a platform signal and an active probe both
// configured, Online therefore means "the host says we have a network and the
// remote endpoint answered".
//
// Online is still only a hint. Submissions can fail while Online; callers
// treat those failures as ordinary.
package connectivity
