package hyperhttp

import (
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lmousom/hyperhttp/pkg/hyperhttp/classify"
)

func newTestResponse(status int, req *Request) *Response {
	return wrapResponse(status, nil, io.NopCloser(strings.NewReader("")), 0, nil, nil, nil, req)
}

func testGetRequest(t *testing.T, rawURL string) *Request {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &Request{Method: "GET", URL: u}
}

func TestRaiseForStatusSuccess(t *testing.T) {
	resp := newTestResponse(200, testGetRequest(t, "https://example.test/widgets"))
	require.NoError(t, resp.RaiseForStatus())
}

func TestRaiseForStatusClientError(t *testing.T) {
	req := testGetRequest(t, "https://example.test/widgets/1")
	resp := newTestResponse(404, req)

	err := resp.RaiseForStatus()
	require.Error(t, err)

	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, 404, ce.Status)
	require.Empty(t, ce.Categories)
	require.NotNil(t, ce.Request)
	require.Equal(t, "GET", ce.Request.Method)
	require.Equal(t, "https://example.test/widgets/1", ce.Request.URL)

	var se *ServerError
	require.False(t, errors.As(err, &se))
}

func TestRaiseForStatusServerError(t *testing.T) {
	req := testGetRequest(t, "https://example.test/widgets")
	resp := newTestResponse(503, req)

	err := resp.RaiseForStatus()
	require.Error(t, err)

	var se *ServerError
	require.True(t, errors.As(err, &se))
	require.Equal(t, 503, se.Status)
	require.True(t, se.HasCategory(classify.Server))
	require.True(t, se.HasCategory(classify.Transient))
	require.NotNil(t, se.Request)
	require.Equal(t, "https://example.test/widgets", se.Request.URL)

	var ce *ClientError
	require.False(t, errors.As(err, &ce))
}
