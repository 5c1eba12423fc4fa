package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
}

func TestNewServer(t *testing.T) {
	conf := Config{Port: 8080}
	applyDefaults(&conf)

	srv := newServer(zap.NewNop(), conf, okHandler())

	s, ok := srv.(*server)
	require.True(t, ok)
	assert.Equal(t, ":8080", s.httpSrv.Addr)
	assert.Equal(t, 5*time.Second, s.httpSrv.ReadHeaderTimeout)
	assert.Equal(t, 1<<16, s.httpSrv.MaxHeaderBytes)
	assert.Equal(t, ":8080", srv.Addr())
}

func TestServer_ListenServeShutdown(t *testing.T) {
	// Arrange
	srv := newServer(zap.NewNop(), Config{Port: 0}, okHandler())
	require.NoError(t, srv.Listen())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve()
	}()

	_, port, err := splitPort(srv.Addr())
	require.NoError(t, err)

	// Act
	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	// Assert
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout")
	}
}

func TestServer_ServeWithoutListen(t *testing.T) {
	srv := newServer(zap.NewNop(), Config{Port: 0}, okHandler())

	assert.Error(t, srv.Serve())
}

func TestServer_ListenPortInUse(t *testing.T) {
	first := newServer(zap.NewNop(), Config{Port: 0}, okHandler())
	require.NoError(t, first.Listen())
	t.Cleanup(func() { _ = first.Shutdown(context.Background()) })
	go func() { _ = first.Serve() }()

	_, port, err := splitPort(first.Addr())
	require.NoError(t, err)
	second := newServer(zap.NewNop(), Config{Port: port}, okHandler())

	err = second.Listen()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config

	applyDefaults(&cfg)

	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.Connection.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Connection.WriteTimeout)
	assert.Equal(t, 60*time.Second, cfg.Connection.IdleTimeout)
}

func splitPort(addr string) (string, int, error) {
	host, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(rawPort)
	return host, port, err
}
