package port

import (
	"github.com/prep/socketpair"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/dclog"
)

// NewPair returns two connected in-process Ports, used to wire a local
// connection between a vendor and a bootstrap-local consumer without a real
// socket, and by tests exercising the connection engine without a network.
func NewPair(logger dclog.Logger) (a, b Port, err error) {
	connA, connB, err := socketpair.New("unix")
	if err != nil {
		return nil, nil, dcerr.Wrap(dcerr.KindTransportDead, err, "create socketpair")
	}
	return newStreamPort(logger.Fork("pairPort(a)"), connA), newStreamPort(logger.Fork("pairPort(b)"), connB), nil
}
