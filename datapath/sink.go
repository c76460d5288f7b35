package datapath

import (
	"context"
	"time"
)

// portSink adapts a Datapath into the action.Sink the executor calls
// into for Output and Controller outcomes (§4.7). The packet path is
// run-to-completion (§5) so a per-call background context is enough —
// nothing here needs to be cancellable from outside the call.
type portSink struct {
	d      *Datapath
	inPort uint16
}

func (s portSink) Output(data []byte, outPort, inPort uint16) {
	_ = s.d.Ports.Output(context.Background(), data, outPort, inPort)
}

func (s portSink) Controller(data []byte, maxLen uint16, reason uint8, inPort uint16) {
	sendLen := len(data)
	if maxLen != 0 && int(maxLen) < sendLen {
		sendLen = int(maxLen)
	}
	s.d.puntToController(data, data[:sendLen], inPort, reason, time.Now())
}
