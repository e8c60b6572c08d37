package ebay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMediaClient(t *testing.T, server *httptest.Server) *MediaClient {
	t.Helper()
	c := NewMediaClient(server.URL, &fakeTokens{token: "tok"}, testLogger(t),
		WithMediaHTTPClient(server.Client()),
	)
	c.retryWait = 0
	return c
}

func TestMediaUploadReadsURLFromBody(t *testing.T) {
	var gotField string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		if _, header, err := r.FormFile("image"); err == nil {
			gotField = header.Filename
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"imageUrl":"https://i.ebayimg.com/images/g/abc/s-l1600.jpg"}`))
	}))
	defer server.Close()

	client := newTestMediaClient(t, server)
	url, err := client.UploadImage(context.Background(), "front.jpg", []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://i.ebayimg.com/images/g/abc/s-l1600.jpg", url)
	assert.Equal(t, "front.jpg", gotField)
}

func TestMediaUploadFallsBackToNestedAndLocation(t *testing.T) {
	t.Run("nested image object", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"image":{"imageUrl":"https://i.ebayimg.com/nested.jpg"}}`))
		}))
		defer server.Close()

		url, err := newTestMediaClient(t, server).UploadImage(context.Background(), "a.jpg", []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, "https://i.ebayimg.com/nested.jpg", url)
	})

	t.Run("location header", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Location", "https://i.ebayimg.com/located.jpg")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		url, err := newTestMediaClient(t, server).UploadImage(context.Background(), "a.jpg", []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, "https://i.ebayimg.com/located.jpg", url)
	})
}

func TestMediaUploadRejectsNonHTTPSURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"imageUrl":"http://i.ebayimg.com/insecure.jpg"}`))
	}))
	defer server.Close()

	_, err := newTestMediaClient(t, server).UploadImage(context.Background(), "a.jpg", []byte("x"))
	require.Error(t, err)
}

func TestMediaUploadRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"imageUrl":"https://i.ebayimg.com/retried.jpg"}`))
	}))
	defer server.Close()

	url, err := newTestMediaClient(t, server).UploadImage(context.Background(), "a.jpg", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "https://i.ebayimg.com/retried.jpg", url)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestMediaUploadDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"errorId":190001,"message":"Unsupported image format"}]}`))
	}))
	defer server.Close()

	_, err := newTestMediaClient(t, server).UploadImage(context.Background(), "a.txt", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, IsTransient(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}
