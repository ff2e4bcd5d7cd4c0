package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"gitforge/config"
	"gitforge/pkg/cluster"
	"gitforge/pkg/lifecycle"
	"gitforge/storage"
)

type fakeLifecycle struct {
	mu       sync.Mutex
	phase    lifecycle.Phase
	stage    *lifecycle.Stage
	released bool
}

func (f *fakeLifecycle) Snapshot() (*lifecycle.Stage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stage == nil {
		return nil, false
	}
	return f.stage.Clone(), true
}

func (f *fakeLifecycle) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stage == nil
}

func (f *fakeLifecycle) Phase() lifecycle.Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

func (f *fakeLifecycle) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
}

func (f *fakeLifecycle) wasReleased() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

type fakeCluster struct {
	nodes  []cluster.Node
	err    error
	joined []JoinRequest
}

func (f *fakeCluster) Nodes() ([]cluster.Node, error) { return f.nodes, f.err }

func (f *fakeCluster) Join(id, address string) error {
	if f.err != nil {
		return f.err
	}
	f.joined = append(f.joined, JoinRequest{ID: id, Address: address})
	return nil
}

func awaitingSetup() *fakeLifecycle {
	return &fakeLifecycle{
		phase: lifecycle.PhaseAwaitingSetup,
		stage: &lifecycle.Stage{
			Label:   "Server Setup",
			Pending: []lifecycle.ManualStep{{Key: storage.StepRootAccount, Title: "Create root account"}},
		},
	}
}

func running() *fakeLifecycle {
	return &fakeLifecycle{phase: lifecycle.PhaseRunning}
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	return New(&config.ServerConfig{}, deps)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	lc := awaitingSetup()
	s := newTestServer(t, Deps{Lifecycle: lc})

	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"awaiting_setup"`)

	rec = do(t, s.Handler(), http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s = newTestServer(t, Deps{Lifecycle: running()})
	rec = do(t, s.Handler(), http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus(t *testing.T) {
	s := newTestServer(t, Deps{Lifecycle: awaitingSetup()})

	rec := do(t, s.Handler(), http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
	assert.Equal(t, "awaiting_setup", resp.Phase)
	require.NotNil(t, resp.Stage)
	assert.Equal(t, "Server Setup", resp.Stage.Label)
	require.Len(t, resp.Stage.Pending, 1)
	assert.Equal(t, storage.StepRootAccount, resp.Stage.Pending[0].Key)

	s = newTestServer(t, Deps{Lifecycle: running()})
	rec = do(t, s.Handler(), http.MethodGet, "/api/status", "")
	resp = StatusResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Ready)
	assert.Nil(t, resp.Stage)
}

func TestCompleteStep(t *testing.T) {
	ctx := context.Background()
	st := storage.New(storage.NewMemoryKV())
	pending, err := st.Init(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	lc := awaitingSetup()
	s := newTestServer(t, Deps{Lifecycle: lc, Setup: st})
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/setup/unknown", `{"value":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/setup/"+storage.StepRootAccount, `{"value":"bad name"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/setup/"+storage.StepRootAccount, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/setup/"+storage.StepRootAccount, `{"value":"admin"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"remaining":1}`, rec.Body.String())
	assert.False(t, lc.wasReleased())

	rec = do(t, h, http.MethodPost, "/api/setup/"+storage.StepServerURL, `{"value":"https://git.example.com/"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"remaining":0}`, rec.Body.String())
	assert.True(t, lc.wasReleased())

	url, ok, err := st.Setting(ctx, storage.SettingServerURL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://git.example.com", url)
}

func TestCompleteStep_NotAwaitingSetup(t *testing.T) {
	st := storage.New(storage.NewMemoryKV())
	s := newTestServer(t, Deps{Lifecycle: running(), Setup: st})

	rec := do(t, s.Handler(), http.MethodPost, "/api/setup/"+storage.StepRootAccount, `{"value":"admin"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestClusterEndpoints(t *testing.T) {
	cl := &fakeCluster{nodes: []cluster.Node{{ID: "n1", Address: "10.0.0.1:5701", Role: cluster.RoleLeader, Voter: true}}}
	s := newTestServer(t, Deps{Lifecycle: running(), Cluster: cl})
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/cluster/nodes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var nodes []cluster.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	assert.Equal(t, cl.nodes, nodes)

	rec = do(t, h, http.MethodPost, "/api/cluster/join", `{"id":"n2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/cluster/join", `{"id":"n2","address":"10.0.0.2:5701"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []JoinRequest{{ID: "n2", Address: "10.0.0.2:5701"}}, cl.joined)

	cl.err = cluster.ErrNotRunning
	rec = do(t, h, http.MethodGet, "/api/cluster/nodes", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	cl.err = errors.New("not the leader")
	rec = do(t, h, http.MethodPost, "/api/cluster/join", `{"id":"n3","address":"10.0.0.3:5701"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestClusterJoin_NotReady(t *testing.T) {
	s := newTestServer(t, Deps{Lifecycle: awaitingSetup(), Cluster: &fakeCluster{}})

	rec := do(t, s.Handler(), http.MethodPost, "/api/cluster/join", `{"id":"n2","address":"10.0.0.2:5701"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	lifecycle.NewMetrics(reg)
	s := newTestServer(t, Deps{Lifecycle: running(), Gatherer: reg})

	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gitforge_lifecycle_pending_steps")
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestServer_StartStop(t *testing.T) {
	health := NewHealth()
	cfg := &config.ServerConfig{HTTPPort: freePort(t), GRPCPort: freePort(t)}
	s := New(cfg, Deps{Lifecycle: running(), Health: health})

	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	require.Error(t, s.Start())

	_, httpPort, err := net.SplitHostPort(s.Addr("http"))
	require.NoError(t, err)
	_, grpcPort, err := net.SplitHostPort(s.Addr("grpc"))
	require.NoError(t, err)

	resp, err := http.Get("http://127.0.0.1:" + httpPort + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn, err := grpc.NewClient("127.0.0.1:"+grpcPort, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		r, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)

		local, err := health.Check(ctx)
		require.NoError(t, err)
		assert.Equal(t, r.Status, local)
		return r.Status
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	require.NoError(t, health.SystemStarted(ctx, lifecycle.Subject{}))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	require.NoError(t, health.SystemStopping(ctx, lifecycle.Subject{}))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}

func TestServer_HTTPSWithoutKeystore(t *testing.T) {
	cfg := &config.ServerConfig{HTTPPort: 0, HTTPSPort: freePort(t), GRPCPort: freePort(t)}
	s := New(cfg, Deps{Lifecycle: running()})

	err := s.Start()
	require.ErrorIs(t, err, config.ErrNoKeystore)
}

func writeKeystore(t *testing.T) (path string, pool *x509.CertPool) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "gitforge"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pool = x509.NewCertPool()
	pool.AddCert(cert)

	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	data = append(data, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})...)
	path = filepath.Join(t.TempDir(), "keystore.pem")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path, pool
}

func TestServer_HTTPS(t *testing.T) {
	keystore, pool := writeKeystore(t)
	cfg := &config.ServerConfig{HTTPPort: 0, HTTPSPort: freePort(t), GRPCPort: freePort(t), KeystoreFile: keystore}
	s := New(cfg, Deps{Lifecycle: running()})

	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	assert.Empty(t, s.Addr("http"))

	_, port, err := net.SplitHostPort(s.Addr("https"))
	require.NoError(t, err)

	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}},
	}
	resp, err := client.Get("https://127.0.0.1:" + port + "/health/ready")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, resp.TLS)
	assert.GreaterOrEqual(t, resp.TLS.Version, uint16(tls.VersionTLS12))
}
