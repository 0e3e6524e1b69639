package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

// AddressKind discriminates the Address tagged union.
type AddressKind uint8

const (
	AddressDomain AddressKind = 0
	AddressIPv4   AddressKind = 1
	AddressIPv6   AddressKind = 2
)

// Transport selects the target socket type the Proxy should open.
type Transport uint8

const (
	TransportTCP Transport = 0
	TransportUDP Transport = 1
)

func (t Transport) String() string {
	if t == TransportUDP {
		return "udp"
	}
	return "tcp"
}

// Address is a tagged union of a domain name or a literal IPv4/IPv6 address,
// each paired with a port.
type Address struct {
	Kind AddressKind
	Host string  // valid when Kind == AddressDomain
	IP4  [4]byte // valid when Kind == AddressIPv4
	IP6  [16]byte // valid when Kind == AddressIPv6
	Port uint16
}

// DomainAddress builds an Address for a hostname.
func DomainAddress(host string, port uint16) Address {
	return Address{Kind: AddressDomain, Host: host, Port: port}
}

// IPv4Address builds an Address for a 4-byte literal.
func IPv4Address(ip [4]byte, port uint16) Address {
	return Address{Kind: AddressIPv4, IP4: ip, Port: port}
}

// IPv6Address builds an Address for a 16-byte literal.
func IPv6Address(ip [16]byte, port uint16) Address {
	return Address{Kind: AddressIPv6, IP6: ip, Port: port}
}

// AddressFromNetIP classifies a net.IP into an IPv4 or IPv6 Address.
func AddressFromNetIP(ip net.IP, port uint16) (Address, error) {
	if v4 := ip.To4(); v4 != nil {
		var a [4]byte
		copy(a[:], v4)
		return IPv4Address(a, port), nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return Address{}, fmt.Errorf("not a valid IP: %v", ip)
	}
	var a [16]byte
	copy(a[:], v6)
	return IPv6Address(a, port), nil
}

// String renders the address as a host:port pair suitable for net.Dial.
// IPv6 addresses are formatted as "[%x:%x:...:%x]:port", built by reading
// big-endian 16-bit groups.
func (a Address) String() string {
	switch a.Kind {
	case AddressDomain:
		return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
	case AddressIPv4:
		ip := net.IPv4(a.IP4[0], a.IP4[1], a.IP4[2], a.IP4[3])
		return net.JoinHostPort(ip.String(), strconv.Itoa(int(a.Port)))
	case AddressIPv6:
		groups := make([]string, 8)
		for i := 0; i < 8; i++ {
			v := binary.BigEndian.Uint16(a.IP6[i*2 : i*2+2])
			groups[i] = fmt.Sprintf("%x", v)
		}
		host := "[" + joinColon(groups) + "]"
		return host + ":" + strconv.Itoa(int(a.Port))
	default:
		return ""
	}
}

func joinColon(groups []string) string {
	out := groups[0]
	for _, g := range groups[1:] {
		out += ":" + g
	}
	return out
}

func (a Address) encode(buf *bytes.Buffer) {
	buf.WriteByte(byte(a.Kind))
	switch a.Kind {
	case AddressDomain:
		putString(buf, a.Host)
	case AddressIPv4:
		buf.Write(a.IP4[:])
	case AddressIPv6:
		buf.Write(a.IP6[:])
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], a.Port)
	buf.Write(portBuf[:])
}

func decodeAddress(b []byte) (Address, []byte, error) {
	kindByte, rest, err := takeByte(b)
	if err != nil {
		return Address{}, nil, err
	}
	kind := AddressKind(kindByte)
	var a Address
	a.Kind = kind
	switch kind {
	case AddressDomain:
		host, r, err := takeString(rest)
		if err != nil {
			return Address{}, nil, err
		}
		a.Host = host
		rest = r
	case AddressIPv4:
		if len(rest) < 4 {
			return Address{}, nil, fmt.Errorf("%w: truncated ipv4", ErrDeserialize)
		}
		copy(a.IP4[:], rest[:4])
		rest = rest[4:]
	case AddressIPv6:
		if len(rest) < 16 {
			return Address{}, nil, fmt.Errorf("%w: truncated ipv6", ErrDeserialize)
		}
		copy(a.IP6[:], rest[:16])
		rest = rest[16:]
	default:
		return Address{}, nil, fmt.Errorf("%w: unknown address kind %d", ErrDeserialize, kind)
	}
	port, rest, err := takeUint16(rest)
	if err != nil {
		return Address{}, nil, err
	}
	a.Port = port
	return a, rest, nil
}
