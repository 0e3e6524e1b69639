package dispatch

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbsouthe/relaymesh/internal/streamio"
	"github.com/jbsouthe/relaymesh/internal/wire"
)

// fakePool hands back a stream whose other end echoes every DataPacket it
// receives, standing in for internal/pool.Pool without a live Proxy.
type fakePool struct {
	fail bool
	got  chan wire.Address
}

func (p *fakePool) Obtain(ctx context.Context, target wire.Address, transport wire.Transport) (*streamio.Stream, error) {
	if p.got != nil {
		p.got <- target
	}
	if p.fail {
		return nil, errors.New("fakePool: obtain failed")
	}

	near, far := net.Pipe()
	nearCodec := wire.NewCodec(near, wire.CompressionNone)
	farCodec := wire.NewCodec(far, wire.CompressionNone)

	go func() {
		for {
			msg, err := farCodec.Recv()
			if err != nil {
				return
			}
			dp, ok := msg.(wire.DataPacket)
			if !ok {
				continue
			}
			if err := farCodec.Send(dp); err != nil {
				return
			}
			if dp.IsEnd {
				return
			}
		}
	}()

	return streamio.New(nearCodec, "s1"), nil
}

func newTestServer(t *testing.T, pool Obtainer) *Server {
	t.Helper()
	srv, err := NewServer("127.0.0.1:0", pool, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Run(ctx)
	return srv
}

func TestSOCKS5ConnectBridgesBytes(t *testing.T) {
	pool := &fakePool{}
	srv := newTestServer(t, pool)

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatalf("write greeting: %v", err)
	}
	greetReply := make([]byte, 2)
	if _, err := io.ReadFull(conn, greetReply); err != nil {
		t.Fatalf("read greeting reply: %v", err)
	}
	if greetReply[0] != 0x05 || greetReply[1] != 0x00 {
		t.Fatalf("greeting reply = % x, want 05 00", greetReply)
	}

	req := []byte{0x05, socksCmdConnect, 0x00, socksATYPIPv4, 93, 184, 216, 34, 0x00, 0x50}
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("write command: %v", err)
	}
	reply := make([]byte, 10)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatalf("read command reply: %v", err)
	}
	want := []byte{0x05, socksSucceeded, 0x00, socksATYPIPv4, 0, 0, 0, 0, 0, 0}
	for i := range want {
		if reply[i] != want[i] {
			t.Fatalf("reply = % x, want % x", reply, want)
		}
	}

	payload := []byte("hello socks5")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("read echoed payload: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("echoed payload = %q, want %q", got, payload)
	}
}

func TestSOCKS5BindCommandNotSupported(t *testing.T) {
	pool := &fakePool{}
	srv := newTestServer(t, pool)

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatalf("write greeting: %v", err)
	}
	greetReply := make([]byte, 2)
	if _, err := io.ReadFull(conn, greetReply); err != nil {
		t.Fatalf("read greeting reply: %v", err)
	}

	bindCmd := []byte{0x05, 0x02, 0x00, socksATYPIPv4, 1, 2, 3, 4, 0x00, 0x50}
	if _, err := conn.Write(bindCmd); err != nil {
		t.Fatalf("write command: %v", err)
	}
	reply := make([]byte, 10)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatalf("read command reply: %v", err)
	}
	if reply[1] != socksCommandNotSupport {
		t.Fatalf("reply code = %d, want %d", reply[1], socksCommandNotSupport)
	}
}

func TestHTTPConnectTunnelsBytes(t *testing.T) {
	pool := &fakePool{}
	srv := newTestServer(t, pool)

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("CONNECT example.test:443 HTTP/1.1\r\nHost: example.test:443\r\n\r\n")); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}

	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if line != "HTTP/1.1 200 Connection established\r\n" {
		t.Fatalf("status line = %q, want established", line)
	}
	blank, err := br.ReadString('\n')
	if err != nil || blank != "\r\n" {
		t.Fatalf("expected trailing blank line, got %q, err=%v", blank, err)
	}

	payload := []byte("hello through the tunnel")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(br, got); err != nil {
		t.Fatalf("read echoed payload: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("echoed payload = %q, want %q", got, payload)
	}
}

func TestHTTPConnectFailureReturns502(t *testing.T) {
	pool := &fakePool{fail: true}
	srv := newTestServer(t, pool)

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("CONNECT example.test:443 HTTP/1.1\r\nHost: example.test:443\r\n\r\n")); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}

	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if line != "HTTP/1.1 502 Bad Gateway\r\n" {
		t.Fatalf("status line = %q, want 502", line)
	}
}

func TestPlainHTTPForwardsRewrittenRequest(t *testing.T) {
	got := make(chan wire.Address, 1)
	pool := &fakePool{got: got}
	srv := newTestServer(t, pool)

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := "GET http://example.test/widgets HTTP/1.1\r\n" +
		"Host: example.test\r\n" +
		"Connection: keep-alive\r\n" +
		"\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	select {
	case target := <-got:
		if target.String() != "example.test:80" {
			t.Fatalf("target = %q, want example.test:80", target.String())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pool.Obtain was never called")
	}

	// fakePool echoes the forwarded bytes back, so the client sees exactly
	// the rewritten request: origin-form target, Host kept, Connection dropped.
	want := "GET /widgets HTTP/1.1\r\nHost: example.test\r\n\r\n"
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	forwarded := make([]byte, len(want))
	if _, err := io.ReadFull(conn, forwarded); err != nil {
		t.Fatalf("read forwarded request: %v", err)
	}
	if string(forwarded) != want {
		t.Fatalf("forwarded request = %q, want %q", forwarded, want)
	}
}
