/*
Package ports defines the interfaces between the encounter core and its
external collaborators, following Hexagonal Architecture principles.

The core reaches the outside world through exactly two narrow contracts:
SnapshotStore (durable storage: snapshots, event journal, turn records,
status updates) and EventSink (presentation: delivery of deltas and domain
events to connected clients). DistributedLocker additionally coordinates
room ownership across replicas.
*/
package ports
