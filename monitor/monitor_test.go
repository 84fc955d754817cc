package monitor

import (
	"encoding/json"
	"expvar"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/INLOpen/versionbench/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSystemCollector_Collect(t *testing.T) {
	dir := t.TempDir()
	sc := NewSystemCollector(dir, time.Second, testLogger())

	snap := sc.Collect(0)
	assert.Equal(t, dir, snap.DiskPath)
	assert.GreaterOrEqual(t, snap.MemPercent, 0.0)
	assert.LessOrEqual(t, snap.MemPercent, 100.0)
	assert.Equal(t, snap, sc.Snapshot())
	assert.Contains(t, snap.String(), dir)

	v := expvar.Get("system_mem_usage_percent")
	require.NotNil(t, v)
	assert.Equal(t, snap.MemPercent, v.(*expvar.Float).Value())
}

func TestSystemCollector_StartStop(t *testing.T) {
	sc := NewSystemCollector(t.TempDir(), 20*time.Millisecond, testLogger())
	sc.Start()
	time.Sleep(60 * time.Millisecond)
	sc.Stop()
	sc.Stop()
}

func TestSystemCollector_ReusesExpvars(t *testing.T) {
	first := NewSystemCollector("", time.Second, testLogger())
	second := NewSystemCollector("", time.Second, testLogger())
	assert.Same(t, first.cpuUsagePercent, second.cpuUsagePercent)
}

func TestDebugServer_Endpoints(t *testing.T) {
	testCases := []struct {
		name     string
		cfg      config.DebugConfig
		path     string
		expected int
	}{
		{name: "metrics enabled", cfg: config.DebugConfig{MetricsEnabled: true}, path: "/metrics", expected: http.StatusOK},
		{name: "metrics disabled", cfg: config.DebugConfig{}, path: "/metrics", expected: http.StatusNotFound},
		{name: "pprof enabled", cfg: config.DebugConfig{PProfEnabled: true}, path: "/debug/pprof/", expected: http.StatusOK},
		{name: "pprof disabled", cfg: config.DebugConfig{MetricsEnabled: true}, path: "/debug/pprof/", expected: http.StatusNotFound},
		{name: "statsviz", cfg: config.DebugConfig{MetricsEnabled: true, StatsvizEnabled: true}, path: "/viz/", expected: http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := NewDebugServer(&tc.cfg, testLogger())
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			assert.Equal(t, tc.expected, rec.Code)
		})
	}
}

func TestDebugServer_MetricsIsJSON(t *testing.T) {
	srv := NewDebugServer(&config.DebugConfig{MetricsEnabled: true}, testLogger())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var vars map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vars))
	assert.Contains(t, vars, "memstats")
}

func TestDebugServer_StopWithoutStart(t *testing.T) {
	srv := NewDebugServer(&config.DebugConfig{ListenAddress: "127.0.0.1:0"}, testLogger())
	srv.Stop()
	assert.Equal(t, "127.0.0.1:0", srv.Addr())
}

func TestDebugServer_DefaultAddress(t *testing.T) {
	srv := NewDebugServer(&config.DebugConfig{}, testLogger())
	assert.Equal(t, defaultDebugAddress, srv.Addr())
}

func TestDebugServer_StartServeStop(t *testing.T) {
	srv := NewDebugServer(&config.DebugConfig{ListenAddress: "127.0.0.1:0", MetricsEnabled: true}, testLogger())
	require.NoError(t, srv.Start())
	require.NoError(t, srv.Start(), "second Start is a no-op")
	addr := srv.Addr()
	assert.NotEqual(t, "127.0.0.1:0", addr)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	srv.Stop()
	srv.Stop()
	_, err = http.Get("http://" + addr + "/metrics")
	assert.Error(t, err)
}

func TestDebugServer_StartAddressInUse(t *testing.T) {
	first := NewDebugServer(&config.DebugConfig{ListenAddress: "127.0.0.1:0"}, testLogger())
	require.NoError(t, first.Start())
	defer first.Stop()

	second := NewDebugServer(&config.DebugConfig{ListenAddress: first.Addr()}, testLogger())
	err := second.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
}
