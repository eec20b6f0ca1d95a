package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type sinkRecorder struct {
	mu   sync.Mutex
	raws []string
}

func (s *sinkRecorder) HandleUpdate(ctx context.Context, raw json.RawMessage) {
	s.mu.Lock()
	s.raws = append(s.raws, string(raw))
	s.mu.Unlock()
}

func TestCallbackConfirmationReturnsToken(t *testing.T) {
	sink := &sinkRecorder{}
	h := New(sink, WithConfirmation("a1b2c3"), WithSecret("s3cret"))

	resp := h.Callback(context.Background(), []byte(`{"type":"confirmation","group_id":1}`))
	require.Equal(t, "a1b2c3", resp)
	require.Empty(t, sink.raws)
}

func TestCallbackSecretMismatchIsRejected(t *testing.T) {
	sink := &sinkRecorder{}
	h := New(sink, WithSecret("s3cret"))

	resp := h.Callback(context.Background(), []byte(`{"type":"message_new","secret":"wrong","object":{}}`))
	require.NotEqual(t, ResponseOK, resp)
	require.Equal(t, ResponseError, resp)

	resp = h.Callback(context.Background(), []byte(`{"type":"message_new","object":{}}`))
	require.Equal(t, ResponseError, resp)
	require.Empty(t, sink.raws)
}

func TestCallbackDispatchesValidUpdate(t *testing.T) {
	sink := &sinkRecorder{}
	h := New(sink, WithSecret("s3cret"))

	body := `{"type":"message_new","secret":"s3cret","object":{"message":{"text":"hi"}}}`
	require.Equal(t, ResponseOK, h.Callback(context.Background(), []byte(body)))
	require.Equal(t, []string{body}, sink.raws)
}

func TestCallbackWithoutSecretAcceptsAll(t *testing.T) {
	sink := &sinkRecorder{}
	h := New(sink)
	require.Equal(t, ResponseOK, h.Callback(context.Background(), []byte(`{"type":"group_join","secret":"x"}`)))
	require.Len(t, sink.raws, 1)
}

func TestCallbackMalformedBody(t *testing.T) {
	sink := &sinkRecorder{}
	h := New(sink)
	require.Equal(t, ResponseError, h.Callback(context.Background(), []byte(`{not json`)))
	require.Empty(t, sink.raws)
}

func TestServeHTTP(t *testing.T) {
	h := New(&sinkRecorder{}, WithConfirmation("tok"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/vk", strings.NewReader(`{"type":"confirmation"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "tok", rec.Body.String())
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vk", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGinAdapter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sink := &sinkRecorder{}
	h := New(sink)

	r := gin.New()
	r.POST("/callback", h.Gin())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(`{"type":"message_new","object":{}}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, ResponseOK, rec.Body.String())
	require.Len(t, sink.raws, 1)
}
