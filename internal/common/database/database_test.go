package database

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"loan-pipeline/internal/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisClient_PingAndClose(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)

	assert.NoError(t, client.Ping(context.Background()))
	assert.NoError(t, client.Close())
}

func TestNewRedis_PoolSize(t *testing.T) {
	client, err := NewRedis(config.RedisConfig{Address: "localhost:6379", PoolSize: 8})
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, 8, client.Client.Options().PoolSize)

	client, err = NewRedis(config.RedisConfig{Address: "localhost:6379"})
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, defaultRedisPoolSize, client.Client.Options().PoolSize)

	_, err = NewRedis(config.RedisConfig{})
	assert.Error(t, err)
}

func TestRedisClient_PingFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	client, err := NewRedis(config.RedisConfig{Address: addr})
	require.NoError(t, err)
	defer client.Close()

	err = client.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

// stalledRedisAddr accepts connections and never answers them.
func stalledRedisAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln.Addr().String()
}

func TestRedisClient_StalledServerHonoursDeadline(t *testing.T) {
	client, err := NewRedis(config.RedisConfig{Address: stalledRedisAddr(t)})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- client.Client.MGet(ctx, "metrics:incoming", "metrics:processed", "metrics:failed").Err()
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("MGET against a stalled server ignored the context deadline")
	}
}

func TestNewPostgres_ConfiguresPool(t *testing.T) {
	client, err := NewPostgres(config.PostgresConfig{
		Host: "localhost", Port: 5432, Database: "loan_app", User: "loans",
		SSLMode: "disable", MaxConnections: 7, MaxIdle: 2,
	})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 7, client.DB.Stats().MaxOpenConnections)
	assert.Contains(t, client.dsn, "password='' dbname='loan_app'")
}

func TestNewElasticsearch(t *testing.T) {
	client, err := NewElasticsearch(config.ElasticsearchConfig{
		Addresses: []string{"http://localhost:9200"},
		Username:  "elastic",
		Password:  "changeme",
	})
	require.NoError(t, err)
	assert.NotNil(t, client.Client)
}

// ==========================
// Elasticsearch index setup
// ==========================

type esRequest struct {
	method string
	path   string
}

func newESServer(t *testing.T, existsStatus, createStatus int, createBody string) (*ElasticsearchClient, *[]esRequest) {
	t.Helper()
	var reqs []esRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs = append(reqs, esRequest{method: r.Method, path: r.URL.Path})
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(existsStatus)
		case http.MethodPut:
			w.WriteHeader(createStatus)
			_, _ = w.Write([]byte(createBody))
		default:
			_, _ = w.Write([]byte(`{"version":{"number":"8.11.0"},"tagline":"You Know, for Search"}`))
		}
	}))
	t.Cleanup(srv.Close)

	client, err := NewElasticsearch(config.ElasticsearchConfig{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client, &reqs
}

func TestElasticsearch_Ping(t *testing.T) {
	client, reqs := newESServer(t, http.StatusOK, http.StatusOK, "")

	require.NoError(t, client.Ping(context.Background()))
	require.Len(t, *reqs, 1)
	assert.Equal(t, http.MethodGet, (*reqs)[0].method)
}

func TestElasticsearch_EnsureIndex_Exists(t *testing.T) {
	client, reqs := newESServer(t, http.StatusOK, http.StatusOK, "")

	require.NoError(t, client.EnsureIndex(context.Background(), "processed-loans", []byte(`{}`)))
	require.Len(t, *reqs, 1)
	assert.Equal(t, http.MethodHead, (*reqs)[0].method)
}

func TestElasticsearch_EnsureIndex_Creates(t *testing.T) {
	client, reqs := newESServer(t, http.StatusNotFound, http.StatusOK, `{"acknowledged":true}`)

	require.NoError(t, client.EnsureIndex(context.Background(), "processed-loans", []byte(`{}`)))
	require.Len(t, *reqs, 2)
	assert.Equal(t, http.MethodPut, (*reqs)[1].method)
	assert.Equal(t, "/processed-loans", (*reqs)[1].path)
}

func TestElasticsearch_EnsureIndex_CreatedConcurrently(t *testing.T) {
	client, _ := newESServer(t, http.StatusNotFound, http.StatusBadRequest,
		`{"error":{"type":"resource_already_exists_exception"},"status":400}`)

	assert.NoError(t, client.EnsureIndex(context.Background(), "processed-loans", []byte(`{}`)))
}

func TestElasticsearch_EnsureIndex_Rejected(t *testing.T) {
	client, _ := newESServer(t, http.StatusNotFound, http.StatusBadRequest,
		`{"error":{"type":"mapper_parsing_exception"},"status":400}`)

	err := client.EnsureIndex(context.Background(), "processed-loans", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create index processed-loans")
}

func TestNewElasticsearch_RequiresAddress(t *testing.T) {
	_, err := NewElasticsearch(config.ElasticsearchConfig{})
	assert.Error(t, err)
}
