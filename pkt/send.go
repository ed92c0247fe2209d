package pkt

import (
	"context"

	"github.com/m-lab/domain-kernel/netbuf"
	"github.com/m-lab/domain-kernel/socket"
	"github.com/m-lab/domain-kernel/status"
)

// SendInternet is spec.md's send_internet: build a header, hand the
// header plus any payload data pages to the link layer, and retry on
// failure with a 25ms backoff until the retry cap is spent or the
// kernel's quit event count advances.
func (k *Kernel) SendInternet(
	ctx context.Context,
	info Info,
	routingKey, destNode uint32,
	destSocket, srcSocket socket.Number,
	requestID uint16,
	template []byte,
	payload []byte,
) status.Status {

	var dat netbuf.DataArray
	if len(payload) > 0 {
		var err error
		dat, err = netbuf.CopyToPA(k.Pool, payload)
		if err != nil {
			return status.PayloadExceedsNetbufCapacity
		}
		defer netbuf.ReleaseDataArray(k.Pool, dat)
	}

	attempts := retryCap(info.RetryCount)
	var last status.Status = status.RemoteNodeFailedToRespond

	for attempt := 0; attempt < attempts; attempt++ {
		res, st := BuildInternetHeader(k.Pool, k.Router, info, routingKey, destNode, destSocket, k.NodeMe, srcSocket, requestID, template, len(payload))
		if res.Page == 0 {
			return st
		}
		if !st.OK() {
			k.Pool.RtnHdr(res.Page)
			return st
		}

		sendStatus := k.NetIO.Send(ctx, res.Port, res.Page, dat)
		k.Pool.RtnHdr(res.Page)
		if sendStatus.OK() {
			return status.OK
		}
		last = sendStatus

		quit, err := waitOrQuit(ctx, k.QuitEC, retryBackoff)
		if err != nil {
			return status.RemoteNodeFailedToRespond.WithRemote()
		}
		if quit {
			return status.RemoteNodeFailedToRespond.WithRemote()
		}
	}
	return last
}
