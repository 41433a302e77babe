// Package testing provides test utilities for rota.
//
// It follows Go's convention of shipping testing helpers in a dedicated
// package (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: single NATS server with JetStream
//   - CreateJetStreamKV / CreateStream: bucket and stream setup
//   - RecordingNotifier: captures outbound notifications for assertions
//   - NewTestLogger: types.Logger writing through t.Logf
//
// Example usage:
//
//	import (
//	    "testing"
//	    rotatest "github.com/arloliu/rota/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := rotatest.StartEmbeddedNATS(t)
//	    notifier := rotatest.NewRecordingNotifier()
//	}
package testing
