package adapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatfeed/pkg/errors"
	"threatfeed/pkg/record"
	"threatfeed/pkg/secrets"
	"threatfeed/pkg/syncstate"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestStaticAdapter_ReturnsCopiesAndAdvancesWatermark(t *testing.T) {
	r := record.New("kev")
	r.CVEID = "CVE-2024-9999"
	a := NewStaticAdapter("kev", []*record.Record{r})

	records, watermark, err := a.FetchIncremental(context.Background(), syncstate.State{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotNil(t, watermark)
	assert.Equal(t, "CVE-2024-9999", records[0].CVEID)

	records[0].CVEID = "mutated"
	assert.Equal(t, "CVE-2024-9999", r.CVEID, "adapter must return independent copies")
}

func TestStaticAdapter_FailingAdapterReturnsError(t *testing.T) {
	a := NewFailingAdapter("broken", errors.FetchTransient("broken", assert.AnError))
	_, _, err := a.FetchIncremental(context.Background(), syncstate.State{})
	assert.Error(t, err)
}

func TestHTTPAdapter_FetchIncremental_MapsAndSkipsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{
				{"id": "ok-1", "description": "fine"},
				{"description": "missing id, should be skipped"},
			},
		})
	}))
	defer srv.Close()

	parseItems := func(body []byte) ([]map[string]interface{}, error) {
		var env struct {
			Items []map[string]interface{} `json:"items"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, err
		}
		return env.Items, nil
	}
	mapItem := func(item map[string]interface{}) (*record.Record, error) {
		id, _ := item["id"].(string)
		if id == "" {
			return nil, assert.AnError
		}
		r := record.New("stub")
		r.Indicator = id
		return r, nil
	}

	a, err := NewHTTPAdapter(HTTPConfig{Source: "stub", BaseURL: srv.URL}, parseItems, mapItem, nil, testLogger())
	require.NoError(t, err)
	defer a.Close()

	records, watermark, err := a.FetchIncremental(context.Background(), syncstate.State{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ok-1", records[0].Indicator)
	assert.NotNil(t, watermark)
}

func TestHTTPAdapter_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a, err := NewHTTPAdapter(HTTPConfig{Source: "stub", BaseURL: srv.URL},
		func([]byte) ([]map[string]interface{}, error) { return nil, nil },
		func(map[string]interface{}) (*record.Record, error) { return nil, nil },
		nil, testLogger())
	require.NoError(t, err)
	defer a.Close()

	_, _, fetchErr := a.FetchIncremental(context.Background(), syncstate.State{})
	require.Error(t, fetchErr)
	appErr, ok := errors.AsAppError(fetchErr)
	require.True(t, ok)
	assert.Equal(t, errors.CodeFetchTransient, appErr.Code)
}

func TestHTTPAdapter_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	a, err := NewHTTPAdapter(HTTPConfig{Source: "stub", BaseURL: srv.URL},
		func([]byte) ([]map[string]interface{}, error) { return nil, nil },
		func(map[string]interface{}) (*record.Record, error) { return nil, nil },
		nil, testLogger())
	require.NoError(t, err)
	defer a.Close()

	_, _, fetchErr := a.FetchIncremental(context.Background(), syncstate.State{})
	require.Error(t, fetchErr)
	appErr, ok := errors.AsAppError(fetchErr)
	require.True(t, ok)
	assert.Equal(t, errors.CodeFetchPermanent, appErr.Code)
}

func TestHTTPAdapter_UsesSinceParamFromSyncState(t *testing.T) {
	var gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": []map[string]interface{}{}})
	}))
	defer srv.Close()

	a, err := NewHTTPAdapter(HTTPConfig{Source: "stub", BaseURL: srv.URL, SinceParam: "since"},
		func(body []byte) ([]map[string]interface{}, error) {
			var env struct {
				Items []map[string]interface{} `json:"items"`
			}
			_ = json.Unmarshal(body, &env)
			return env.Items, nil
		},
		func(map[string]interface{}) (*record.Record, error) { return nil, nil },
		nil, testLogger())
	require.NoError(t, err)
	defer a.Close()

	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, _, err = a.FetchIncremental(context.Background(), syncstate.State{LastSync: &last})
	require.NoError(t, err)
	assert.Equal(t, last.Format(time.RFC3339), gotSince)
}

func TestHTTPAdapter_FetchIncremental_SetsUniqueCorrelationID(t *testing.T) {
	var gotIDs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIDs = append(gotIDs, r.Header.Get("X-Correlation-Id"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": []map[string]interface{}{}})
	}))
	defer srv.Close()

	a, err := NewHTTPAdapter(HTTPConfig{Source: "stub", BaseURL: srv.URL},
		func([]byte) ([]map[string]interface{}, error) { return nil, nil },
		func(map[string]interface{}) (*record.Record, error) { return nil, nil },
		nil, testLogger())
	require.NoError(t, err)
	defer a.Close()

	_, _, err = a.FetchIncremental(context.Background(), syncstate.State{})
	require.NoError(t, err)
	_, _, err = a.FetchIncremental(context.Background(), syncstate.State{})
	require.NoError(t, err)

	require.Len(t, gotIDs, 2)
	assert.NotEmpty(t, gotIDs[0])
	assert.NotEmpty(t, gotIDs[1])
	assert.NotEqual(t, gotIDs[0], gotIDs[1], "each fetch gets its own correlation id")
}

func TestNewHTTPAdapter_ResolvesAPIKeyAndRaisesRate(t *testing.T) {
	t.Setenv("STUB_KEY", "secret-value")
	mgr := secrets.New(secrets.Config{}, testLogger())

	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("apiKey")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": []map[string]interface{}{}})
	}))
	defer srv.Close()

	a, err := NewHTTPAdapter(HTTPConfig{
		Source:      "stub",
		BaseURL:     srv.URL,
		APIKeyRef:   "env:STUB_KEY",
		APIKeyParam: "apiKey",
	}, func(body []byte) ([]map[string]interface{}, error) {
		var env struct {
			Items []map[string]interface{} `json:"items"`
		}
		_ = json.Unmarshal(body, &env)
		return env.Items, nil
	}, func(map[string]interface{}) (*record.Record, error) { return nil, nil }, mgr, testLogger())
	require.NoError(t, err)
	defer a.Close()

	_, _, err = a.FetchIncremental(context.Background(), syncstate.State{})
	require.NoError(t, err)
	assert.Equal(t, "secret-value", gotKey)
	assert.Equal(t, 1.0, a.limiter.Stats().RPS, "a resolved key raises the rate to 1 request/s")
}
