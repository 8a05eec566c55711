package dconn

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/jpillora/requestlog"

	"github.com/distclass-go/dorpc/dclog"
)

// startDebugHTTP exposes GET /debug/stats as JSON, wrapped with
// requestlog the way the teacher wraps its own debug HTTP handler when its
// log level is debug-or-above.
func (c *Connection) startDebugHTTP() {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(c.Statistics())
	})

	var handler http.Handler = mux
	if c.GetLogLevel() >= dclog.LogLevelDebug {
		handler = requestlog.Wrap(handler)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		c.reportError(err)
		return
	}
	c.debugHTTP = &http.Server{Handler: handler}
	c.ILogf("debug stats available at http://%s/debug/stats (%s so far)", ln.Addr(), c.Statistics())
	go c.debugHTTP.Serve(ln)
}
