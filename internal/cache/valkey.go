package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyConfig holds connection parameters for the Valkey/Redis-compatible
// server backing the token store.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// ValkeyProvider implements Provider against a Valkey server. Connections are
// dialled per operation; the token workload is low-volume and correctness
// matters more than connection reuse.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// NewValkeyProvider creates a Provider using the supplied configuration. It
// pings the target so misconfiguration fails at boot rather than during an
// incident.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	applyValkeyDefaults(&cfg)
	p := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := p.ping(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrKeyNotFound when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.do(ctx, func(c *respConn) error {
		if err := c.send("GET", key); err != nil {
			return err
		}
		reply, err := c.receive()
		if err != nil {
			return err
		}
		switch reply.kind {
		case respNil:
			return ErrKeyNotFound
		case respBulk:
			payload = reply.data
			return nil
		default:
			return fmt.Errorf("unexpected valkey reply %q for GET", reply.kind)
		}
	})
	return payload, err
}

// Set stores bytes with the provided TTL.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.do(ctx, func(c *respConn) error {
		args := setArgs(key, value, ttl, false)
		if err := c.send(args[0], args[1:]...); err != nil {
			return err
		}
		reply, err := c.receive()
		if err != nil {
			return err
		}
		if reply.kind != respSimple || string(reply.data) != "OK" {
			return fmt.Errorf("unexpected SET response: %s", reply.data)
		}
		return nil
	})
}

// SetNX stores the value only if the key does not exist.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var ok bool
	err := p.do(ctx, func(c *respConn) error {
		args := setArgs(key, value, ttl, true)
		if err := c.send(args[0], args[1:]...); err != nil {
			return err
		}
		reply, err := c.receive()
		if err != nil {
			return err
		}
		switch reply.kind {
		case respSimple:
			ok = true
			return nil
		case respNil:
			ok = false
			return nil
		default:
			return fmt.Errorf("unexpected SET NX response type: %s", reply.kind)
		}
	})
	return ok, err
}

// Del removes a key.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	return p.do(ctx, func(c *respConn) error {
		if err := c.send("DEL", key); err != nil {
			return err
		}
		_, err := c.receive()
		return err
	})
}

// Close closes the provider (connections are per-operation, nothing to free).
func (p *ValkeyProvider) Close() error { return nil }

func (p *ValkeyProvider) ping(ctx context.Context) error {
	return p.do(ctx, func(c *respConn) error {
		if err := c.send("PING"); err != nil {
			return err
		}
		reply, err := c.receive()
		if err != nil {
			return err
		}
		if reply.kind != respSimple || string(reply.data) != "PONG" {
			return fmt.Errorf("unexpected PING response: %s", reply.data)
		}
		return nil
	})
}

// do dials, authenticates, runs fn, and retries transient failures with
// backoff up to MaxRetries attempts.
func (p *ValkeyProvider) do(ctx context.Context, fn func(*respConn) error) error {
	attempts := p.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := p.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryableValkeyErr(err) || attempt == attempts-1 {
			return err
		}
		time.Sleep(valkeyBackoff(attempt))
	}
	return lastErr
}

func (p *ValkeyProvider) attempt(ctx context.Context, fn func(*respConn) error) error {
	conn, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.close()

	if err := p.authenticate(conn); err != nil {
		return err
	}
	return fn(conn)
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	var (
		nc  net.Conn
		err error
	)
	if p.cfg.TLS {
		host := p.cfg.Addr
		if h, _, splitErr := net.SplitHostPort(p.cfg.Addr); splitErr == nil {
			host = h
		}
		nc, err = tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr, &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host})
	} else {
		nc, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &respConn{
		conn:         nc,
		reader:       bufio.NewReader(nc),
		writer:       bufio.NewWriter(nc),
		readTimeout:  p.cfg.ReadTimeout,
		writeTimeout: p.cfg.WriteTimeout,
	}, nil
}

func (p *ValkeyProvider) authenticate(c *respConn) error {
	if p.cfg.Password != "" {
		args := []string{p.cfg.Password}
		if p.cfg.Username != "" {
			args = []string{p.cfg.Username, p.cfg.Password}
		}
		if err := c.send("AUTH", args...); err != nil {
			return err
		}
		reply, err := c.receive()
		if err != nil {
			return err
		}
		if reply.kind != respSimple || !strings.EqualFold(string(reply.data), "OK") {
			return fmt.Errorf("auth failed: %s", reply.data)
		}
	}
	if p.cfg.DB > 0 {
		if err := c.send("SELECT", strconv.Itoa(p.cfg.DB)); err != nil {
			return err
		}
		reply, err := c.receive()
		if err != nil {
			return err
		}
		if reply.kind != respSimple || !strings.EqualFold(string(reply.data), "OK") {
			return fmt.Errorf("select failed: %s", reply.data)
		}
	}
	return nil
}

func setArgs(key string, value []byte, ttl time.Duration, nx bool) []string {
	args := []string{"SET", key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	if nx {
		args = append(args, "NX")
	}
	return args
}

func retryableValkeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKeyNotFound) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func valkeyBackoff(attempt int) time.Duration {
	delay := 50 * time.Millisecond << attempt
	if delay > time.Second {
		delay = time.Second
	}
	return delay
}

func applyValkeyDefaults(cfg *ValkeyConfig) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}

// respKind enumerates the subset of RESP reply types the provider handles.
type respKind string

const (
	respSimple respKind = "+"
	respBulk   respKind = "$"
	respInt    respKind = ":"
	respNil    respKind = "_"
)

type respReply struct {
	kind respKind
	data []byte
}

// respConn wraps a network connection with RESP encode/decode helpers.
type respConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *respConn) close() {
	_ = c.conn.Close()
}

func (c *respConn) send(command string, args ...string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	parts := append([]string{command}, args...)
	if _, err := fmt.Fprintf(c.writer, "*%d\r\n", len(parts)); err != nil {
		return err
	}
	for _, part := range parts {
		if _, err := fmt.Fprintf(c.writer, "$%d\r\n%s\r\n", len(part), part); err != nil {
			return err
		}
	}
	return c.writer.Flush()
}

func (c *respConn) receive() (respReply, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return respReply{}, err
	}
	prefix, err := c.reader.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	switch prefix {
	case '+':
		line, err := c.readLine()
		return respReply{kind: respSimple, data: line}, err
	case '-':
		line, err := c.readLine()
		if err != nil {
			return respReply{}, err
		}
		return respReply{}, errors.New(string(line))
	case ':':
		line, err := c.readLine()
		return respReply{kind: respInt, data: line}, err
	case '$':
		line, err := c.readLine()
		if err != nil {
			return respReply{}, err
		}
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, err
		}
		if size == -1 {
			return respReply{kind: respNil}, nil
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(c.reader, buf); err != nil {
			return respReply{}, err
		}
		if err := c.expectCRLF(); err != nil {
			return respReply{}, err
		}
		return respReply{kind: respBulk, data: buf}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) readLine() ([]byte, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return []byte(line), nil
}

func (c *respConn) expectCRLF() error {
	b1, err := c.reader.ReadByte()
	if err != nil {
		return err
	}
	b2, err := c.reader.ReadByte()
	if err != nil {
		return err
	}
	if b1 != '\r' || b2 != '\n' {
		return fmt.Errorf("invalid line termination")
	}
	return nil
}
