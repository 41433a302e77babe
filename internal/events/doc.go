// Package events consumes inbound collaborator events from JetStream.
//
// Producers publish JSON envelopes ({"meta":{...},"data":{...}}) on subjects
// under a common prefix:
//
//	<prefix>.message          MessageArrived
//	<prefix>.worker.online    WorkerWentOnline
//	<prefix>.worker.offline   WorkerWentOffline
//	<prefix>.manual.release   ManualReleaseRequested
//	<prefix>.manual.assign    ManualAssignRequested
//	<prefix>.activity         ActivityRecorded
//
// The envelope's meta.type selects the payload type. A Consumer reads the
// stream through one durable pull consumer and hands decoded events to a
// bounded pool of workers. Events are sharded by resource (or by worker
// for presence events) so one resource's events are handled in order.
//
// Disposition: success acks, transient failures (busy locks, connectivity)
// are redelivered with a jittered delay, anything else is terminated.
package events
