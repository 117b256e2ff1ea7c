package rpc

// ResponseDispatcher inverts Dispatcher for the client role: instead of
// routing inbound *requests* by command name, it routes inbound *responses*
// (_result / _error / onStatus) by transaction id to whichever caller is
// waiting on that id. onStatus messages carrying transaction id 0 (the
// common case for stream-level status events like
// NetStream.Publish.Start) are delivered to a separate catch-all callback
// since no caller is blocked waiting on a specific transaction for them.

import (
	"fmt"
	"sync"

	"github.com/ashgrove/rtmp-publish/internal/errors"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/amf"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/chunk"
)

// Response carries the decoded outcome of a _result/_error command.
type Response struct {
	Name          string // "_result" or "_error"
	TransactionID float64
	Properties    interface{} // second command argument (often null or a command-info object)
	Info          interface{} // third command argument (information object, e.g. onStatus-shaped)
}

// IsError reports whether the response represents a command failure.
func (r Response) IsError() bool { return r.Name == "_error" }

// StatusHandler is invoked for unsolicited onStatus events (transaction id 0).
type StatusHandler func(info interface{})

// ResponseDispatcher tracks in-flight transaction ids awaiting a response.
type ResponseDispatcher struct {
	mu      sync.Mutex
	waiters map[float64]chan Response

	OnStatus StatusHandler
}

// NewResponseDispatcher constructs an empty dispatcher.
func NewResponseDispatcher() *ResponseDispatcher {
	return &ResponseDispatcher{waiters: make(map[float64]chan Response)}
}

// Await registers interest in the response for transactionID and returns a
// channel that receives exactly one Response once it arrives. Callers must
// eventually call Dispatch (from the read loop) for the channel to fire.
func (d *ResponseDispatcher) Await(transactionID float64) <-chan Response {
	ch := make(chan Response, 1)
	d.mu.Lock()
	d.waiters[transactionID] = ch
	d.mu.Unlock()
	return ch
}

// Cancel removes a previously registered waiter (e.g. after a timeout).
func (d *ResponseDispatcher) Cancel(transactionID float64) {
	d.mu.Lock()
	delete(d.waiters, transactionID)
	d.mu.Unlock()
}

// Dispatch decodes msg (expected TypeID=20, AMF0 command) and routes it: a
// _result/_error with a matching waiter delivers to that waiter; a bare
// onStatus (or any command with no registered waiter) goes to OnStatus.
func (d *ResponseDispatcher) Dispatch(msg *chunk.Message) error {
	if msg == nil {
		return errors.NewProtocolError("response_dispatch", fmt.Errorf("nil message"))
	}
	vals, err := amf.DecodeAll(msg.Payload)
	if err != nil {
		return errors.NewProtocolError("response_dispatch.decode", err)
	}
	if len(vals) == 0 {
		return errors.NewProtocolError("response_dispatch", fmt.Errorf("empty AMF payload"))
	}
	name, _ := vals[0].(string)

	switch name {
	case "_result", "_error":
		var txID float64
		if len(vals) > 1 {
			txID, _ = vals[1].(float64)
		}
		resp := Response{Name: name, TransactionID: txID}
		if len(vals) > 2 {
			resp.Properties = vals[2]
		}
		if len(vals) > 3 {
			resp.Info = vals[3]
		}
		d.mu.Lock()
		ch, ok := d.waiters[txID]
		if ok {
			delete(d.waiters, txID)
		}
		d.mu.Unlock()
		if ok {
			ch <- resp
			close(ch)
			return nil
		}
		if d.OnStatus != nil {
			d.OnStatus(resp.Info)
		}
		return nil
	case "onStatus":
		var info interface{}
		if len(vals) > 3 {
			info = vals[3]
		}
		if d.OnStatus != nil {
			d.OnStatus(info)
		}
		return nil
	default:
		return nil
	}
}
