package broker

import (
	"net"

	"github.com/pkg/errors"

	"github.com/criyle/go-fdmap/pkg/unixsocket"
)

// Client submits a donation request to a broker server. A client talks
// over a single connection and is used for a single request.
type Client struct {
	soc *socket
}

// NewClient wraps an established connection to a broker server.
func NewClient(s *unixsocket.Socket) *Client {
	return &Client{soc: newSocket(s)}
}

// Dial connects to the broker listening on the unix socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialUnix("unixpacket", nil, &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, errors.Wrap(err, "dial broker")
	}
	return NewClient(unixsocket.FromConn(conn)), nil
}

// Spawn donates the descriptors, runs the request and waits for the
// reply. The connection is closed afterwards; the caller keeps the
// ownership of the donated descriptors.
func (c *Client) Spawn(req *Request, fds []int) (*Reply, error) {
	defer c.soc.Close()
	if err := c.soc.SendMsg(req, unixsocket.Msg{Fds: fds}); err != nil {
		return nil, errors.Wrap(err, "spawn: failed to send request")
	}
	var reply Reply
	if _, err := c.soc.RecvMsg(&reply); err != nil {
		return nil, errors.Wrap(err, "spawn: failed to receive reply")
	}
	return &reply, nil
}
