package h1

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/lmousom/hyperhttp/internal/headers"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/pool"
	"github.com/stretchr/testify/require"
)

func TestDoReadsFixedLengthResponse(t *testing.T) {
	client, server := net.Pipe()
	c := &Connection{nc: client, r: bufio.NewReader(client), w: bufio.NewWriter(client), created: time.Now()}
	c.lastUsed.Store(time.Now())

	go func() {
		br := bufio.NewReader(server)
		line, _ := br.ReadString('\n')
		require.Equal(t, "GET /things HTTP/1.1\r\n", line)
		for {
			l, _ := br.ReadString('\n')
			if l == "\r\n" {
				break
			}
		}
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	}()

	req := &Request{Method: "GET", Path: "/things", Host: "example.com", Header: headers.New(), ContentLength: -1}
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
	require.NoError(t, resp.Body.Close())
}

func TestDoReadsChunkedResponse(t *testing.T) {
	client, server := net.Pipe()
	c := &Connection{nc: client, r: bufio.NewReader(client), w: bufio.NewWriter(client), created: time.Now()}
	c.lastUsed.Store(time.Now())

	go func() {
		br := bufio.NewReader(server)
		for {
			l, _ := br.ReadString('\n')
			if l == "\r\n" {
				break
			}
		}
		server.Write([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n0\r\n\r\n"))
	}()

	req := &Request{Method: "GET", Path: "/", Host: "example.com", ContentLength: -1}
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "Wiki", string(body))
}

func TestDoWritesKnownLengthBodyAndContentLengthHeader(t *testing.T) {
	client, server := net.Pipe()
	c := &Connection{nc: client, r: bufio.NewReader(client), w: bufio.NewWriter(client), created: time.Now()}
	c.lastUsed.Store(time.Now())

	done := make(chan string, 1)
	go func() {
		br := bufio.NewReader(server)
		var sb strings.Builder
		for {
			l, _ := br.ReadString('\n')
			sb.WriteString(l)
			if l == "\r\n" {
				break
			}
		}
		buf := make([]byte, 4)
		io.ReadFull(br, buf)
		sb.Write(buf)
		done <- sb.String()
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	}()

	req := &Request{Method: "POST", Path: "/", Host: "example.com", Header: headers.New(), Body: strings.NewReader("body"), ContentLength: 4}
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	sent := <-done
	require.Contains(t, sent, "Content-Length: 4\r\n")
	require.Contains(t, sent, "body")
}

func TestDoHandles100ContinueBeforeSendingBody(t *testing.T) {
	client, server := net.Pipe()
	c := &Connection{nc: client, r: bufio.NewReader(client), w: bufio.NewWriter(client), created: time.Now()}
	c.lastUsed.Store(time.Now())

	go func() {
		br := bufio.NewReader(server)
		for {
			l, _ := br.ReadString('\n')
			if l == "\r\n" {
				break
			}
		}
		server.Write([]byte("HTTP/1.1 100 Continue\r\n\r\n"))

		buf := make([]byte, 4)
		io.ReadFull(br, buf)
		require.Equal(t, "body", string(buf))
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	}()

	req := &Request{
		Method: "POST", Path: "/", Host: "example.com", Header: headers.New(),
		Body: strings.NewReader("body"), ContentLength: 4, Expect100: true,
	}
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
}

func TestBodyReaderDrainsAndEvictsOnConnectionClose(t *testing.T) {
	client, server := net.Pipe()
	c := &Connection{nc: client, r: bufio.NewReader(client), w: bufio.NewWriter(client), created: time.Now()}
	c.lastUsed.Store(time.Now())

	go func() {
		br := bufio.NewReader(server)
		for {
			l, _ := br.ReadString('\n')
			if l == "\r\n" {
				break
			}
		}
		server.Write([]byte("HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 5\r\n\r\nhello"))
	}()

	req := &Request{Method: "GET", Path: "/", Host: "example.com"}
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.Close)

	require.NoError(t, resp.Body.Close())
	require.Equal(t, pool.Closing, c.State())
}
