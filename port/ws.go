package port

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/dclog"
)

// wsDialer mirrors the teacher's handshake timeout and buffer sizing.
var wsDialer = websocket.Dialer{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 45 * time.Second,
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsPort wraps a websocket connection as a Port. Websocket frames are
// already message-oriented, so no additional length prefix is needed here.
type wsPort struct {
	dclog.Logger
	conn *websocket.Conn
}

// DialWS opens a network-rendezvous Port over a websocket to url.
func DialWS(logger dclog.Logger, url string, header http.Header) (Port, error) {
	conn, _, err := wsDialer.Dial(url, header)
	if err != nil {
		return nil, dcerr.Wrap(dcerr.KindTransportDead, err, "dial websocket %s", url)
	}
	return &wsPort{Logger: logger.Fork("wsPort(%s)", url), conn: conn}, nil
}

// AcceptWS upgrades an inbound HTTP request to a websocket Port.
func AcceptWS(logger dclog.Logger, w http.ResponseWriter, r *http.Request) (Port, error) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, dcerr.Wrap(dcerr.KindTransportDead, err, "upgrade websocket")
	}
	return &wsPort{Logger: logger.Fork("wsPort(%s)", r.RemoteAddr), conn: conn}, nil
}

func (p *wsPort) Send(frame []byte, deadline time.Time) error {
	p.conn.SetWriteDeadline(deadline)
	if err := p.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return dcerr.Wrap(dcerr.KindTransportDead, err, "websocket write")
	}
	return nil
}

func (p *wsPort) Recv() ([]byte, error) {
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		return nil, dcerr.Wrap(dcerr.KindTransportDead, err, "websocket read")
	}
	return data, nil
}

func (p *wsPort) Close() error {
	return p.conn.Close()
}
