/*
Package engine implements the turn and action state machine for one live
encounter.

An Engine owns a single SessionState and is its only writer. Initiative
order, turn advancement, action validation/execution, per-entity action
queues, the single-shot turn timer, and DM backtrack/redo all live here.
Every state-mutating call computes a delta against the previous state and
delivers it, along with the matching domain events, to subscribers in
emission order.
*/
package engine
