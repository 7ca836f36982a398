// Package engine runs compiled command files.
//
// ARCHITECTURE:
//
// One dispatcher goroutine, a fixed pool of worker goroutines, and a shared
// counter bank:
//
//  1. The dispatcher walks the program in file order.
//  2. Each job is stamped with a sequence number and pushed onto JobQueue
//     without blocking.
//  3. Workers pop jobs, execute their actions in order against the
//     counter.Store, and mark themselves idle.
//  4. A wait command blocks the dispatcher until JobQueue is drained: the
//     queue is empty and no worker is mid-job.
//  5. End of input performs one final wait, then the pool is joined.
//
// ORDERING:
//
// Actions of one job run in declared order on exactly one worker. Jobs that
// are not separated by a wait have no relative order. A wait orders every
// job submitted before it ahead of every job submitted after it: the
// dispatcher observes the drained state under the queue mutex, and all
// worker writes happen before their Done call on that mutex.
//
// LOCKING:
//
//   - counter slots: one mutex each, held for a single mutation
//   - JobQueue: one mutex with two conditions (notEmpty, idle)
//   - stats: a channel to a single consumer goroutine
//
// No path holds two counter locks, a counter lock while sleeping, or a
// counter lock while touching the queue.
package engine
