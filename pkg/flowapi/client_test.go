package flowapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flow-tools/axf-deploy/pkg/errors"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Simple test logger that implements logging.Logger interface
type TestLogger struct{}

func (l *TestLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (l *TestLogger) Debugf(format string, args ...interface{})               {}
func (l *TestLogger) Infof(format string, args ...interface{})                {}
func (l *TestLogger) Warnf(format string, args ...interface{})                {}
func (l *TestLogger) Errorf(format string, args ...interface{})               {}

const (
	testFlowID = "43168b4c-a403-5990-a2c4-86bd37e04b88"
	testAPIKey = "my-secret"
)

// flowServer imitates a deployed flow executor: /health plus an
// authenticated run endpoint
func flowServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/flows/"+testFlowID+"/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderAPIKey) != testAPIKey {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"detail": "invalid API key"})
			return
		}
		handler(w, r)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestClientRunFlow(t *testing.T) {
	server := flowServer(t, func(w http.ResponseWriter, r *http.Request) {
		var request RunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, "Hello, how are you today?", request.InputValue)

		json.NewEncoder(w).Encode(map[string]string{
			"result": "I'm doing well, thanks for asking!",
			"status": "success",
		})
	})

	client := NewClient(ClientOptions{
		BaseURL: server.URL,
		APIKey:  testAPIKey,
	}, &TestLogger{})

	response, err := client.RunFlow(context.Background(), testFlowID, RunRequest{
		InputValue: "Hello, how are you today?",
	})
	require.NoError(t, err)
	assert.Equal(t, "I'm doing well, thanks for asking!", response.Result)
	assert.Equal(t, StatusSuccess, response.Status)
}

func TestClientRunFlowWrongAPIKey(t *testing.T) {
	server := flowServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached with a wrong key")
	})

	client := NewClient(ClientOptions{
		BaseURL: server.URL,
		APIKey:  "wrong-secret",
	}, &TestLogger{})

	response, err := client.RunFlow(context.Background(), testFlowID, RunRequest{InputValue: "hi"})
	require.Error(t, err)
	assert.Nil(t, response)
	assert.True(t, errors.IsPermissionError(err))
	assert.Contains(t, err.Error(), "invalid API key")
}

func TestClientRunFlowMissingAPIKey(t *testing.T) {
	server := flowServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached without a key")
	})

	client := NewClient(ClientOptions{BaseURL: server.URL}, &TestLogger{})

	_, err := client.RunFlow(context.Background(), testFlowID, RunRequest{InputValue: "hi"})
	require.Error(t, err)
	assert.True(t, errors.IsPermissionError(err))
}

func TestClientRunFlowNestedEnvelope(t *testing.T) {
	// The full flow API wraps the chat output several envelopes deep
	server := flowServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"session_id": "session-1",
			"outputs": [{
				"outputs": [{
					"results": {
						"message": {
							"text": "nested answer"
						}
					}
				}]
			}]
		}`))
	})

	client := NewClient(ClientOptions{
		BaseURL: server.URL,
		APIKey:  testAPIKey,
	}, &TestLogger{})

	response, err := client.RunFlow(context.Background(), testFlowID, RunRequest{InputValue: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "nested answer", response.Result)
	assert.Equal(t, StatusSuccess, response.Status)
	assert.Equal(t, "session-1", response.SessionID)
}

func TestClientRunFlowServerError(t *testing.T) {
	server := flowServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"detail": "model credential missing"})
	})

	client := NewClient(ClientOptions{
		BaseURL: server.URL,
		APIKey:  testAPIKey,
	}, &TestLogger{})

	_, err := client.RunFlow(context.Background(), testFlowID, RunRequest{InputValue: "hi"})
	require.Error(t, err)
	assert.True(t, errors.IsNetworkError(err))
	assert.Contains(t, err.Error(), "model credential missing")
}

func TestClientRunFlowEmptyFlowID(t *testing.T) {
	client := NewClient(ClientOptions{BaseURL: "http://127.0.0.1:1"}, &TestLogger{})

	_, err := client.RunFlow(context.Background(), "", RunRequest{InputValue: "hi"})
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestClientHealth(t *testing.T) {
	server := flowServer(t, func(w http.ResponseWriter, r *http.Request) {})

	client := NewClient(ClientOptions{BaseURL: server.URL}, &TestLogger{})
	assert.NoError(t, client.Health(context.Background()))
}

func TestClientHealthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL}, &TestLogger{})
	assert.Error(t, client.Health(context.Background()))
}

func TestClientWaitHealthyEventually(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL}, &TestLogger{})

	err := client.WaitHealthy(context.Background(), RetryHealthOptions{
		RetryAttempts: 5,
		RetryInterval: 10 * time.Millisecond,
	})
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestClientWaitHealthyExhaustsAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(ClientOptions{BaseURL: server.URL}, &TestLogger{})

	err := client.WaitHealthy(context.Background(), RetryHealthOptions{
		RetryAttempts: 2,
		RetryInterval: 10 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, errors.IsHealthCheckError(err))
}
