package cachecompress

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goforj/cachecompress/cachecore"
)

var dialMemcached = func(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: 3 * time.Second}
	return d.DialContext(ctx, network, addr)
}

type memcachedStore struct {
	addrs      []string
	defaultTTL time.Duration
	prefix     string
	pools      map[string]chan *memcachedConn
	rr         uint32
}

type memcachedConn struct {
	addr   string
	conn   net.Conn
	reader *bufio.Reader
}

func newMemcachedStore(addrs []string, defaultTTL time.Duration, prefix string) *memcachedStore {
	if len(addrs) == 0 {
		addrs = []string{"127.0.0.1:11211"}
	}
	if defaultTTL <= 0 {
		defaultTTL = defaultCacheTTL
	}
	if prefix == "" {
		prefix = defaultCachePrefix
	}
	pools := make(map[string]chan *memcachedConn, len(addrs))
	for _, addr := range addrs {
		pools[addr] = make(chan *memcachedConn, 16)
	}
	return &memcachedStore{addrs: addrs, defaultTTL: defaultTTL, prefix: prefix, pools: pools}
}

// exptime converts ttl to memcached seconds; 0 means never expire.
func (s *memcachedStore) exptime(ttl time.Duration) int {
	ttl = cachecore.EffectiveTTL(ttl, s.defaultTTL)
	if ttl < 0 {
		return 0
	}
	seconds := int(ttl.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func (s *memcachedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	mc, err := s.acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	bad := false
	defer func() { s.release(mc, bad) }()

	full := s.cacheKey(key)
	if _, err := fmt.Fprintf(mc.conn, "get %s\r\n", full); err != nil {
		bad = true
		return nil, false, err
	}
	line, err := mc.reader.ReadString('\n')
	if err != nil {
		bad = true
		return nil, false, err
	}
	if line == "END\r\n" {
		return nil, false, nil
	}

	_, value, err := readMemcachedValue(mc.reader, line)
	if err != nil {
		bad = true
		return nil, false, err
	}
	// consume END
	if _, err := mc.reader.ReadString('\n'); err != nil {
		bad = true
		return nil, false, err
	}
	return value, true, nil
}

// GetMany sends one multi-key get.
func (s *memcachedStore) GetMany(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	mc, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	bad := false
	defer func() { s.release(mc, bad) }()

	byFull := make(map[string]string, len(keys))
	full := make([]string, 0, len(keys))
	for _, key := range keys {
		k := s.cacheKey(key)
		byFull[k] = key
		full = append(full, k)
	}
	if _, err := fmt.Fprintf(mc.conn, "get %s\r\n", strings.Join(full, " ")); err != nil {
		bad = true
		return nil, err
	}
	for {
		line, err := mc.reader.ReadString('\n')
		if err != nil {
			bad = true
			return nil, err
		}
		if line == "END\r\n" {
			return out, nil
		}
		fullKey, value, err := readMemcachedValue(mc.reader, line)
		if err != nil {
			bad = true
			return nil, err
		}
		if key, ok := byFull[fullKey]; ok {
			out[key] = value
		}
	}
}

// readMemcachedValue parses a VALUE header line and reads its data block.
func readMemcachedValue(r *bufio.Reader, line string) (string, []byte, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 4 || fields[0] != "VALUE" {
		return "", nil, fmt.Errorf("unexpected response: %s", strings.TrimSpace(line))
	}
	bytesLen, err := strconv.Atoi(fields[3])
	if err != nil {
		return "", nil, fmt.Errorf("parse length: %w", err)
	}
	value := make([]byte, bytesLen+2)
	if _, err := io.ReadFull(r, value); err != nil {
		return "", nil, err
	}
	return fields[1], value[:bytesLen], nil
}

func (s *memcachedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	mc, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	bad := false
	defer func() { s.release(mc, bad) }()

	full := s.cacheKey(key)
	if _, err := fmt.Fprintf(mc.conn, "set %s 0 %d %d\r\n", full, s.exptime(ttl), len(value)); err != nil {
		bad = true
		return err
	}
	if _, err := mc.conn.Write(value); err != nil {
		bad = true
		return err
	}
	if _, err := mc.conn.Write([]byte("\r\n")); err != nil {
		bad = true
		return err
	}
	line, err := mc.reader.ReadString('\n')
	if err != nil {
		bad = true
		return err
	}
	if !strings.HasPrefix(line, "STORED") {
		bad = true
		return fmt.Errorf("memcached set failed: %s", strings.TrimSpace(line))
	}
	return nil
}

func (s *memcachedStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	mc, err := s.acquire(ctx)
	if err != nil {
		return false, err
	}
	bad := false
	defer func() { s.release(mc, bad) }()

	full := s.cacheKey(key)
	if _, err := fmt.Fprintf(mc.conn, "add %s 0 %d %d\r\n", full, s.exptime(ttl), len(value)); err != nil {
		bad = true
		return false, err
	}
	if _, err := mc.conn.Write(value); err != nil {
		bad = true
		return false, err
	}
	if _, err := mc.conn.Write([]byte("\r\n")); err != nil {
		bad = true
		return false, err
	}
	line, err := mc.reader.ReadString('\n')
	if err != nil {
		bad = true
		return false, err
	}
	switch {
	case strings.HasPrefix(line, "STORED"):
		return true, nil
	case strings.HasPrefix(line, "NOT_STORED"):
		return false, nil
	default:
		bad = true
		return false, fmt.Errorf("memcached add failed: %s", strings.TrimSpace(line))
	}
}

func (s *memcachedStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	// incr/decr take unsigned deltas
	if delta < 0 {
		return s.incr(ctx, key, -delta, ttl, "decr")
	}
	return s.incr(ctx, key, delta, ttl, "incr")
}

func (s *memcachedStore) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if delta < 0 {
		return s.Increment(ctx, key, -delta, ttl)
	}
	return s.incr(ctx, key, delta, ttl, "decr")
}

func (s *memcachedStore) incr(ctx context.Context, key string, delta int64, ttl time.Duration, verb string) (int64, error) {
	mc, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	bad := false
	defer func() { s.release(mc, bad) }()

	full := s.cacheKey(key)
	if _, err := fmt.Fprintf(mc.conn, "%s %s %d\r\n", verb, full, delta); err != nil {
		bad = true
		return 0, err
	}
	line, err := mc.reader.ReadString('\n')
	if err != nil {
		bad = true
		return 0, err
	}
	line = strings.TrimSpace(line)
	if line == "NOT_FOUND" {
		// seed with add so a concurrent seeder wins cleanly, then retry
		if _, err := s.Add(ctx, key, []byte("0"), ttl); err != nil {
			return 0, err
		}
		return s.incr(ctx, key, delta, ttl, verb)
	}
	if strings.HasPrefix(line, "ERROR") {
		bad = true
		return 0, errors.New(line)
	}
	val, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		bad = true
		return 0, err
	}
	return val, nil
}

func (s *memcachedStore) Delete(ctx context.Context, key string) error {
	mc, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	bad := false
	defer func() { s.release(mc, bad) }()
	full := s.cacheKey(key)
	if _, err := fmt.Fprintf(mc.conn, "delete %s\r\n", full); err != nil {
		bad = true
		return err
	}
	if _, err := mc.reader.ReadString('\n'); err != nil {
		bad = true
		return err
	}
	return nil
}

func (s *memcachedStore) DeleteMany(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *memcachedStore) Flush(ctx context.Context) error {
	mc, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	bad := false
	defer func() { s.release(mc, bad) }()
	if _, err := fmt.Fprintf(mc.conn, "flush_all\r\n"); err != nil {
		bad = true
		return err
	}
	line, err := mc.reader.ReadString('\n')
	if err != nil {
		bad = true
		return err
	}
	if !strings.HasPrefix(line, "OK") {
		bad = true
		return fmt.Errorf("memcached flush failed: %s", strings.TrimSpace(line))
	}
	return nil
}

func (s *memcachedStore) acquire(ctx context.Context) (*memcachedConn, error) {
	if len(s.addrs) == 0 {
		return nil, errors.New("memcached: no addresses configured")
	}
	var errs bytes.Buffer
	start := int(atomic.AddUint32(&s.rr, 1)-1) % len(s.addrs)
	for i := 0; i < len(s.addrs); i++ {
		addr := s.addrs[(start+i)%len(s.addrs)]
		if pool, ok := s.pools[addr]; ok {
			select {
			case mc := <-pool:
				if mc != nil {
					return mc, nil
				}
			default:
			}
		}
		conn, err := dialMemcached(ctx, "tcp", addr)
		if err == nil {
			return &memcachedConn{
				addr:   addr,
				conn:   conn,
				reader: bufio.NewReader(conn),
			}, nil
		}
		fmt.Fprintf(&errs, "%s: %v; ", addr, err)
	}
	return nil, fmt.Errorf("memcached dial failed: %s", errs.String())
}

func (s *memcachedStore) release(mc *memcachedConn, bad bool) {
	if mc == nil || mc.conn == nil {
		return
	}
	if bad {
		_ = mc.conn.Close()
		return
	}
	pool, ok := s.pools[mc.addr]
	if !ok {
		_ = mc.conn.Close()
		return
	}
	select {
	case pool <- mc:
	default:
		_ = mc.conn.Close()
	}
}

func (s *memcachedStore) cacheKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}
