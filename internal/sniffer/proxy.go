package sniffer

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	xproxy "golang.org/x/net/proxy"

	"github.com/aigoflow/studio-bridge/internal/config"
	"github.com/aigoflow/studio-bridge/internal/models"
)

// Proxy is the local forward proxy the browser is pointed at. Traffic to
// hosts outside the intercept allow-list is tunneled byte-for-byte; allow-
// listed CONNECTs are TLS-terminated with a minted leaf so generation
// responses can be teed through the extractor.
type Proxy struct {
	addr      string
	intercept map[string]bool
	pattern   string
	ca        *CA
	publisher *Publisher
	dial      func(network, addr string) (net.Conn, error)
}

func NewProxy(cfg *config.Config, ca *CA, publisher *Publisher) (*Proxy, error) {
	dial := net.Dial
	if cfg.UpstreamSocks != "" {
		dialer, err := xproxy.SOCKS5("tcp", cfg.UpstreamSocks, nil, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("upstream socks dialer: %w", err)
		}
		dial = dialer.Dial
	}

	intercept := make(map[string]bool, len(cfg.InterceptHosts))
	for _, h := range cfg.InterceptHosts {
		intercept[strings.ToLower(h)] = true
	}

	return &Proxy{
		addr:      cfg.ProxyAddr,
		intercept: intercept,
		pattern:   cfg.GeneratePattern,
		ca:        ca,
		publisher: publisher,
		dial:      dial,
	}, nil
}

func (p *Proxy) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("proxy listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	slog.Info("Sniffer proxy listening", "addr", p.addr, "intercept_hosts", len(p.intercept))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("Proxy accept failed", "error", err)
			continue
		}
		go p.handleConn(conn)
	}
}

func (p *Proxy) handleConn(conn net.Conn) {
	defer conn.Close()

	req, err := http.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		return
	}
	if req.Method == http.MethodConnect {
		p.handleConnect(conn, req)
		return
	}
	p.forwardPlain(conn, req)
}

func (p *Proxy) handleConnect(conn net.Conn, req *http.Request) {
	host, port, err := net.SplitHostPort(req.Host)
	if err != nil {
		host, port = req.Host, "443"
	}
	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}
	if p.intercept[strings.ToLower(host)] {
		p.mitm(conn, host, port)
		return
	}
	p.tunnel(conn, net.JoinHostPort(host, port))
}

// tunnel is the non-intercepted path: a blind byte pipe in both directions.
func (p *Proxy) tunnel(client net.Conn, target string) {
	upstream, err := p.dial("tcp", target)
	if err != nil {
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() { io.Copy(upstream, client); done <- struct{}{} }()
	go func() { io.Copy(client, upstream); done <- struct{}{} }()
	<-done
}

// mitm terminates TLS toward the browser and re-dials the real origin,
// relaying request/response pairs until either side closes.
func (p *Proxy) mitm(conn net.Conn, host, port string) {
	clientTLS := tls.Server(conn, p.ca.TLSConfig())
	defer clientTLS.Close()
	if err := clientTLS.Handshake(); err != nil {
		slog.Debug("MITM handshake failed", "host", host, "error", err)
		return
	}

	raw, err := p.dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		slog.Warn("MITM upstream dial failed", "host", host, "error", err)
		return
	}
	upstream := tls.Client(raw, &tls.Config{ServerName: host})
	defer upstream.Close()

	clientReader := bufio.NewReader(clientTLS)
	upstreamReader := bufio.NewReader(upstream)
	for {
		req, err := http.ReadRequest(clientReader)
		if err != nil {
			return
		}
		req.RequestURI = ""
		req.URL.Scheme = "https"
		req.URL.Host = host

		if err := req.Write(upstream); err != nil {
			return
		}
		resp, err := http.ReadResponse(upstreamReader, req)
		if err != nil {
			return
		}

		if strings.Contains(req.URL.Path, p.pattern) {
			p.relayIntercepted(clientTLS, resp)
			return // framing was rewritten to Connection: close
		}
		if err := resp.Write(clientTLS); err != nil {
			resp.Body.Close()
			return
		}
		resp.Body.Close()
	}
}

// relayIntercepted forwards a generation response to the browser while
// feeding a decoded copy through the extractor. ReadResponse already
// reassembled any chunked transfer coding, so the body is re-framed as
// Connection: close toward the client.
func (p *Proxy) relayIntercepted(client io.Writer, resp *http.Response) {
	defer resp.Body.Close()

	extractor := NewExtractor(func(t models.SnifferTuple) {
		if p.publisher == nil {
			return
		}
		if err := p.publisher.Publish(t); err != nil {
			slog.Warn("Tuple publish failed", "error", err)
		}
	})

	var head strings.Builder
	fmt.Fprintf(&head, "HTTP/1.1 %s\r\n", resp.Status)
	for name, values := range resp.Header {
		switch strings.ToLower(name) {
		case "content-length", "transfer-encoding", "connection":
			continue
		}
		for _, v := range values {
			fmt.Fprintf(&head, "%s: %s\r\n", name, v)
		}
	}
	head.WriteString("Connection: close\r\n\r\n")
	if _, err := io.WriteString(client, head.String()); err != nil {
		return
	}

	pr, pw := io.Pipe()
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		decoded := decodeBody(pr, resp.Header.Get("Content-Encoding"))
		buf := make([]byte, 4096)
		for {
			n, err := decoded.Read(buf)
			if n > 0 {
				extractor.Feed(buf[:n])
			}
			if err != nil {
				if err != io.EOF {
					slog.Debug("Decoder stopped mid-stream, relay continues", "error", err)
				}
				// The decoder can die before the body ends (corrupt or
				// changed encoding). Keep draining the pipe so the tee
				// writes never block and the browser still gets every
				// raw byte.
				io.Copy(io.Discard, pr)
				return
			}
		}
	}()

	tee := io.TeeReader(resp.Body, pw)
	buf := make([]byte, 4096)
	for {
		n, err := tee.Read(buf)
		if n > 0 {
			if _, werr := client.Write(buf[:n]); werr != nil {
				break
			}
			if f, ok := client.(interface{ Flush() error }); ok {
				f.Flush()
			}
		}
		if err != nil {
			break
		}
	}
	pw.Close()
	<-scanDone
	extractor.Finish()
}

// forwardPlain proxies a non-CONNECT request. The browser only sends these
// for plain-HTTP origins, which are never intercept targets.
func (p *Proxy) forwardPlain(conn net.Conn, req *http.Request) {
	host := req.URL.Host
	if host == "" {
		host = req.Host
	}
	if !strings.Contains(host, ":") {
		host += ":80"
	}
	upstream, err := p.dial("tcp", host)
	if err != nil {
		return
	}
	defer upstream.Close()

	req.RequestURI = ""
	if err := req.Write(upstream); err != nil {
		return
	}
	io.Copy(conn, upstream)
}
