package netio

import (
	"context"
	"testing"

	"github.com/m-lab/domain-kernel/app"
	"github.com/m-lab/domain-kernel/netbuf"
	"github.com/m-lab/domain-kernel/pkt"
)

func TestLoopbackSendWithoutHandler(t *testing.T) {
	l := NewLoopback()
	st := l.Send(context.Background(), pkt.Port{}, 0, netbuf.DataArray{})
	if st.OK() {
		t.Error("Send with no registered handler should not report OK")
	}
}

func TestLoopbackRegisterAndSend(t *testing.T) {
	l := NewLoopback()
	var gotHdr netbuf.PageAddr
	var gotFlag int16
	called := false
	channel, err := l.RegisterHandler(app.XNSProtocol, func(hdrPage netbuf.PageAddr, data netbuf.DataArray, callerFlag int16) {
		called = true
		gotHdr = hdrPage
		gotFlag = callerFlag
	})
	if err != nil {
		t.Fatal(err)
	}
	if channel != uint32(app.XNSProtocol) {
		t.Errorf("channel = %d, want %d", channel, app.XNSProtocol)
	}

	st := l.Send(context.Background(), pkt.Port{}, netbuf.PageAddr(42), netbuf.DataArray{})
	if !st.OK() {
		t.Error("Send with a registered handler should report OK")
	}
	if !called {
		t.Fatal("handler was not invoked")
	}
	if gotHdr != 42 {
		t.Errorf("handler got header page %d, want 42", gotHdr)
	}
	if gotFlag != 0 {
		t.Errorf("handler got callerFlag %d, want 0", gotFlag)
	}
}
