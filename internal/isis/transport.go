package isis

import (
	"fmt"
	"net"
	"sync"
	"syscall"
	"unsafe"

	"go.uber.org/zap"
)

// EthernetTransport sends raw IS-IS frames over AF_PACKET sockets, one per
// link, opened lazily on first use. No repo in the example pack opens raw
// link-layer frames (see DESIGN.md's note on the injected Transport
// interface), so this is built directly on the syscall package rather than
// a third-party raw-socket library -- the same footing internal/fib's
// netlink driver takes for its own kernel socket, just one layer lower.
type EthernetTransport struct {
	log *zap.Logger

	mu    sync.Mutex
	socks map[string]*linkSocket
}

type linkSocket struct {
	fd    int
	index int
}

const isisEthertype = 0x00FE // ISO 8802-2 LLC length field (non-Ethernet-II framing)

// NewEthernetTransport constructs a Transport with no open sockets; each
// link's socket is created on the first SendFrame or RecvFrame call for
// that link.
func NewEthernetTransport(log *zap.Logger) *EthernetTransport {
	return &EthernetTransport{
		log:   log.With(zap.String("component", "isis.transport")),
		socks: make(map[string]*linkSocket),
	}
}

func (t *EthernetTransport) socketFor(linkName string) (*linkSocket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.socks[linkName]; ok {
		return s, nil
	}
	iface, err := net.InterfaceByName(linkName)
	if err != nil {
		return nil, fmt.Errorf("isis transport: %s: %w", linkName, err)
	}
	fd, err := syscall.Socket(syscall.AF_PACKET, syscall.SOCK_DGRAM, htons(isisEthertype))
	if err != nil {
		return nil, fmt.Errorf("isis transport: socket: %w", err)
	}
	addr := syscall.SockaddrLinklayer{
		Protocol: htons(isisEthertype),
		Ifindex:  iface.Index,
	}
	if err := syscall.Bind(fd, &addr); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("isis transport: bind %s: %w", linkName, err)
	}
	s := &linkSocket{fd: fd, index: iface.Index}
	t.socks[linkName] = s
	return s, nil
}

// SendFrame writes payload out linkName addressed to dst, the All-L1-ISs
// or All-L2-ISs multicast MAC in the common case.
func (t *EthernetTransport) SendFrame(linkName string, dst [6]byte, payload []byte) error {
	s, err := t.socketFor(linkName)
	if err != nil {
		return err
	}
	addr := syscall.SockaddrLinklayer{
		Protocol: htons(isisEthertype),
		Ifindex:  s.index,
		Halen:    6,
	}
	copy(addr.Addr[:6], dst[:])
	return syscall.Sendto(s.fd, payload, 0, &addr)
}

// recvBufferSize is sized for a jumbo frame; SOCK_DGRAM truncates an
// oversized datagram rather than splitting it across reads, so this is
// comfortably above any IS-IS PDU this router originates or forwards.
const recvBufferSize = 9216

// RecvFrame blocks until a frame arrives on linkName's socket and returns
// its source SNPA plus payload. SOCK_DGRAM AF_PACKET already strips the
// Ethernet/LLC framing, so payload starts at the IS-IS common header,
// exactly the shape packet.Decode expects.
func (t *EthernetTransport) RecvFrame(linkName string) (src [6]byte, payload []byte, err error) {
	s, err := t.socketFor(linkName)
	if err != nil {
		return src, nil, err
	}
	buf := make([]byte, recvBufferSize)
	n, from, err := syscall.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return src, nil, fmt.Errorf("isis transport: recvfrom %s: %w", linkName, err)
	}
	if ll, ok := from.(*syscall.SockaddrLinklayer); ok {
		copy(src[:], ll.Addr[:6])
	}
	return src, buf[:n], nil
}

// Close releases every open link socket.
func (t *EthernetTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var first error
	for name, s := range t.socks {
		if err := syscall.Close(s.fd); err != nil && first == nil {
			first = err
		}
		delete(t.socks, name)
	}
	return first
}

func htons(v uint16) uint16 {
	// AF_PACKET protocol/sll_protocol fields are network byte order
	// regardless of host endianness.
	var probe uint16 = 1
	if *(*byte)(unsafe.Pointer(&probe)) == 1 {
		return v<<8 | v>>8
	}
	return v
}
