package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelflut/pixelflutd/internal/broadcast"
	"github.com/pixelflut/pixelflutd/internal/canvas"
	"github.com/pixelflut/pixelflutd/internal/spectator"
)

func TestCurrentScreenServesSnapshot(t *testing.T) {
	canv := canvas.New(2, 2)
	spec := spectator.New(broadcast.NewEgress(4), nil, nil)
	srv := New(Config{ListenAddress: ":0"}, canv, spec, nil)

	req := httptest.NewRequest(http.MethodGet, "/current-screen", nil)
	w := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, canv.SnapshotBytes(), w.Body.Bytes())
}

func TestCORSHeaderIsPermissive(t *testing.T) {
	canv := canvas.New(2, 2)
	spec := spectator.New(broadcast.NewEgress(4), nil, nil)
	srv := New(Config{ListenAddress: ":0"}, canv, spec, nil)

	req := httptest.NewRequest(http.MethodGet, "/current-screen", nil)
	w := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
