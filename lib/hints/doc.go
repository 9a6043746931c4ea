// Package hints buffers writes destined for replicas that could not be
// reached, to be replayed once the target recovers (hinted handoff).
//
// Hints are kept in bounded per-target queues so memory stays predictable
// under a sustained partition: when a queue is full the oldest hint is
// dropped, and every hint carries a TTL after which it is discarded and the
// key's convergence is left to anti-entropy instead.
package hints
