package devicetokens

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/confops/internal/localstate"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
)

func TestClientUpsertPostsToken(t *testing.T) {
	obtained := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var got RegisterRequest
	var auth, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/v1/device-tokens", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/", func(context.Context) string { return "jwt-1" }, WithRole(func() string { return "chair" }))
	require.NoError(t, err)

	err = client.Upsert(context.Background(), localstate.DeviceToken{Value: "tok", ObtainedAt: obtained, PlatformTag: "android"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "Bearer jwt-1", auth)
	assert.Equal(t, "tok", got.Token)
	assert.Equal(t, "android", got.Platform)
	assert.Equal(t, "chair", got.Role)
	assert.True(t, obtained.Equal(got.ObtainedAt))
}

func TestClientRemoveToleratesMissingRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, func(context.Context) string { return "" })
	require.NoError(t, err)
	assert.NoError(t, client.Remove(context.Background(), "tok"))
}

func TestClientSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, func(context.Context) string { return "" })
	require.NoError(t, err)
	err = client.Upsert(context.Background(), localstate.DeviceToken{Value: "tok"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(" ", func(context.Context) string { return "" })
	assert.Error(t, err)
	_, err = NewClient("http://x", nil)
	assert.Error(t, err)
}
