// Package audit ships flow events out of the process.
package audit

import (
	"social-login-service/internal/auth/flow"
)

// Register subscribes the sink to login outcomes.
func Register(bus *flow.Bus, sink *KafkaSink) {
	if bus == nil || sink == nil {
		return
	}
	bus.Subscribe(flow.KindLoginFailed, sink.Handle)
	bus.Subscribe(flow.KindLoginSucceeded, sink.Handle)
}
