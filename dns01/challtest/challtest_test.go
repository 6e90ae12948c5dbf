package challtest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedPost struct {
	path string
	body map[string]string
}

// newTestClient starts a stand-in for the pebble-challtestsrv management API
// that records every POST, and returns a Client pointed at it.
func newTestClient(t *testing.T, status int) (*Client, func() []recordedPost) {
	t.Helper()

	var mu sync.Mutex
	var posts []recordedPost

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var decoded map[string]string
		assert.NoError(t, json.Unmarshal(body, &decoded))

		mu.Lock()
		posts = append(posts, recordedPost{path: r.URL.Path, body: decoded})
		mu.Unlock()

		w.WriteHeader(status)
	}))
	t.Cleanup(ts.Close)

	client, err := New(ts.URL)
	require.NoError(t, err)

	return client, func() []recordedPost {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedPost{}, posts...)
	}
}

func TestNew(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "address")
}

func TestCreateTXT(t *testing.T) {
	client, posts := newTestClient(t, http.StatusOK)

	err := client.CreateTXT(context.Background(),
		"example.com", "_acme-challenge.www", "txt-value")
	require.NoError(t, err)

	recorded := posts()
	require.Len(t, recorded, 1)
	require.Equal(t, "/set-txt", recorded[0].path)
	require.Equal(t, map[string]string{
		"Host":  "_acme-challenge.www.example.com.",
		"Value": "txt-value",
	}, recorded[0].body)
}

func TestCreateTXTApex(t *testing.T) {
	client, posts := newTestClient(t, http.StatusOK)

	// An empty relative name means the record sits at the zone apex.
	err := client.CreateTXT(context.Background(), "example.com", "", "txt-value")
	require.NoError(t, err)

	recorded := posts()
	require.Len(t, recorded, 1)
	require.Equal(t, "example.com.", recorded[0].body["Host"])
}

func TestDeleteTXT(t *testing.T) {
	client, posts := newTestClient(t, http.StatusOK)

	err := client.DeleteTXT(context.Background(), "example.com", "_acme-challenge.www")
	require.NoError(t, err)

	recorded := posts()
	require.Len(t, recorded, 1)
	require.Equal(t, "/clear-txt", recorded[0].path)
	require.Equal(t, map[string]string{
		"Host": "_acme-challenge.www.example.com.",
	}, recorded[0].body)
}

func TestPostFailure(t *testing.T) {
	client, _ := newTestClient(t, http.StatusBadRequest)

	err := client.CreateTXT(context.Background(),
		"example.com", "_acme-challenge.www", "txt-value")
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP status 400")
}
