// Package watch is the presence-watch notification engine.
//
// A watcher registers interest in targets (Graph). When a target appears,
// i.e. moves from absent everywhere to present in some shared space, the
// Monitor looks up every watcher of that target, asks the Throttle whether
// the pair is outside its cooldown window and hands allowed pairs to the
// Dispatcher, which formats a random template and sends it privately.
//
// The cooldown is committed before the send is attempted, so a failing
// recipient costs one notification per window instead of a retry storm.
// Dispatch failures never reach the event loop; they are logged, counted and
// published on the event bus.
package watch
