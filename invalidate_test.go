package pagegen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingInvalidator struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (r *recordingInvalidator) InvalidatePath(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return r.err
}

func (r *recordingInvalidator) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestHTTPInvalidator(t *testing.T) {
	var gotMethod, gotPath, gotSecret, gotURLPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotURLPath = r.URL.Path
		gotPath = r.URL.Query().Get("path")
		gotSecret = r.URL.Query().Get("secret")
		_, _ = w.Write([]byte(`{"revalidated":true}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvalidator(srv.URL+"/", "s3cret", srv.Client())
	require.NoError(t, inv.InvalidatePath(context.Background(), "/auto-insurance/texas"))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/revalidate", gotURLPath)
	assert.Equal(t, "/auto-insurance/texas", gotPath)
	assert.Equal(t, "s3cret", gotSecret)
}

func TestHTTPInvalidatorReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid token"}`))
	}))
	defer srv.Close()

	err := NewHTTPInvalidator(srv.URL, "wrong", nil).InvalidatePath(context.Background(), "/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Invalid token")
}

func TestNewInvalidatorFromConfig(t *testing.T) {
	targets, conn, err := NewInvalidator(SiteConfig{}, "a", zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, conn)
	assert.Empty(t, targets)

	targets, _, err = NewInvalidator(SiteConfig{RevalidateURL: "http://downstream"}, "a", zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, targets, "no secret, no webhook")

	targets, conn, err = NewInvalidator(SiteConfig{RevalidateURL: "http://downstream", RevalidateSecret: "s"}, "a", zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, conn)
	require.Len(t, targets, 1)
	assert.IsType(t, &HTTPInvalidator{}, targets[0])
}

func invalidationMsg(t *testing.T, m invalidationMessage) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return &nats.Msg{Subject: "pagegen.invalidate", Data: data}
}

func TestInvalidationHandler(t *testing.T) {
	target := &recordingInvalidator{}
	handle := invalidationHandler("instance-a", target, zap.NewNop())

	handle(invalidationMsg(t, invalidationMessage{Path: "/life-insurance", Origin: "instance-b"}))
	handle(invalidationMsg(t, invalidationMessage{Path: "/ignored", Origin: "instance-a"}))
	handle(invalidationMsg(t, invalidationMessage{Origin: "instance-b"}))
	handle(&nats.Msg{Subject: "pagegen.invalidate", Data: []byte("not json")})

	assert.Equal(t, []string{"/life-insurance"}, target.Paths())
}

func TestMultiInvalidatorCallsEveryTarget(t *testing.T) {
	first := &recordingInvalidator{err: errors.New("downstream unavailable")}
	second := &recordingInvalidator{}
	multi := MultiInvalidator{first, second}

	err := multi.InvalidatePath(context.Background(), "/pet-insurance")
	assert.ErrorContains(t, err, "downstream unavailable")
	assert.Equal(t, []string{"/pet-insurance"}, first.Paths())
	assert.Equal(t, []string{"/pet-insurance"}, second.Paths())

	assert.NoError(t, MultiInvalidator{second}.InvalidatePath(context.Background(), "/ok"))
}
