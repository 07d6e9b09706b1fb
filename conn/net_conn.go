/*
Package conn implements the connection between a pair of replicas.
The connection will only be used in an unidirectional manner:
the replica that dials sends framed envelopes, the replica that
listens receives them. To make the connection more usable, it is
encapsulated with the writer and encoder.
*/
package conn

import (
	"bufio"
	"net"

	"github.com/hashicorp/go-msgpack/codec"
)

// NetConn represents a connection established from one replica to another.
type NetConn struct {
	target string
	conn   net.Conn
	w      *bufio.Writer
	enc    *codec.Encoder
}

// Target returns the address this connection sends to.
func (n *NetConn) Target() string {
	return n.target
}

// Release closes the connection in a NetConn variable.
func (n *NetConn) Release() error {
	return n.conn.Close()
}
