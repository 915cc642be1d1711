// Package sockthread runs one background goroutine over a FIFO queue of
// connection handles and re-arms each handle through a caller predicate.
//
// A Worker is the poll-and-requeue building block used to multiplex many live
// sockets over a single goroutine without a reactor:
//
//	w := sockthread.New[*socket.Socket](sockthread.WithName("shard-0"))
//	if err := w.Start(func(s *socket.Socket) bool {
//	    return handle(s) // true keeps s in rotation, false drops it
//	}); err != nil {
//	    return err
//	}
//	w.Push(sock)
//	...
//	w.Wait()            // stop and join
//	for _, s := range w.Drain() {
//	    s.Close()       // leftovers stay queued until drained
//	}
//
// The callback runs outside the queue lock, so producers never block on a
// slow item, and a requeued item lands behind anything pushed while it was
// being processed. A blocking callback stalls every other item of the same
// Worker; run several Workers to spread load.
package sockthread
