// Package queue serializes work per key.
//
// Each key (for deploys, "stage-<id>") is a small state machine:
//
//	EMPTY → ACTIVE(e) → EMPTY
//	ACTIVE(e) + QUEUED[n1, n2] → ACTIVE(n1) + QUEUED[n2]
//
// [Queue.Add] starts an entry immediately when its key is idle and queues
// it otherwise. When the running entry finishes it calls [Queue.Pop], which
// promotes the next waiting entry. Popping an entry that is not the active
// one is ignored, so a late or duplicate pop can never start two entries
// for the same key.
//
// A disabled queue accepts entries but starts none of them; re-enabling it
// starts the head of every idle key. Start callbacks always run outside the
// queue's lock.
//
//	q := queue.New()
//	q.Add("stage-production", exec)   // starts
//	q.Add("stage-production", other)  // waits
//	q.Pop("stage-production", exec)   // starts other
package queue
