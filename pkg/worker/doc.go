/*
Package worker implements the hub's four background ticker loops: confirming
pending subscriptions, pulling feeds that have been marked as having new
data, pushing delivery events to subscribers, and the bootstrap poller that
periodically re-queues every known feed for a pull.

Each worker follows the same shape: a struct holding its dependencies
(storage.Store, a *lease.Dispatcher, a clock.Clock, and whatever else it
needs), a Start/Stop pair driving a goroutine over a time.Ticker, and a
per-cycle method that runs exactly one unit of work and never panics or
propagates an error past the loop — failures are logged and counted, and
the cycle retries on the next tick.
*/
package worker
