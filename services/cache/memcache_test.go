package cache

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMemcached speaks just enough of the memcache text protocol for the client
type fakeMemcached struct {
	mu    sync.Mutex
	items map[string][]byte
	exps  map[string]int
	ln    net.Listener
}

func startFakeMemcached(t *testing.T) *fakeMemcached {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeMemcached{items: map[string][]byte{}, exps: map[string]int{}, ln: ln}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return f
}

func (f *fakeMemcached) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		f.mu.Lock()
		switch fields[0] {
		case "get", "gets":
			for _, key := range fields[1:] {
				if v, ok := f.items[key]; ok {
					fmt.Fprintf(w, "VALUE %s 0 %d 1\r\n%s\r\n", key, len(v), v)
				}
			}
			w.WriteString("END\r\n")
		case "set":
			size, _ := strconv.Atoi(fields[4])
			exp, _ := strconv.Atoi(fields[3])
			data := make([]byte, size+2)
			if _, err := io.ReadFull(r, data); err != nil {
				f.mu.Unlock()
				return
			}
			f.items[fields[1]] = data[:size]
			f.exps[fields[1]] = exp
			w.WriteString("STORED\r\n")
		case "delete":
			if _, ok := f.items[fields[1]]; ok {
				delete(f.items, fields[1])
				w.WriteString("DELETED\r\n")
			} else {
				w.WriteString("NOT_FOUND\r\n")
			}
		default:
			w.WriteString("ERROR\r\n")
		}
		f.mu.Unlock()

		if err := w.Flush(); err != nil {
			return
		}
	}
}

func (f *fakeMemcached) expiration(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exps[key]
}

func TestMemcacheService(t *testing.T) {
	server := startFakeMemcached(t)
	mc := NewMemcacheService(server.ln.Addr().String())

	// Set a value
	err := mc.Set("test_key", []byte("test_value"), time.Hour)
	assert.NoError(t, err)
	assert.Equal(t, 3600, server.expiration("test_key"))

	// Get the value
	value, err := mc.Get("test_key")
	assert.NoError(t, err)
	assert.Equal(t, "test_value", string(value))

	// Delete the value
	err = mc.Delete("test_key")
	assert.NoError(t, err)

	// Try to get the deleted value
	_, err = mc.Get("test_key")
	assert.ErrorIs(t, err, ErrMiss)

	// Deleting again is fine
	assert.NoError(t, mc.Delete("test_key"))
}

func TestMemcacheSubSecondExpiration(t *testing.T) {
	server := startFakeMemcached(t)
	mc := NewMemcacheService(server.ln.Addr().String())

	require.NoError(t, mc.Set("short", []byte("v"), 200*time.Millisecond))
	assert.Equal(t, 1, server.expiration("short"))

	require.NoError(t, mc.Set("forever", []byte("v"), 0))
	assert.Equal(t, 0, server.expiration("forever"))
}

func TestMemcacheUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	mc := NewMemcacheService(addr)
	_, err = mc.Get("k")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}
