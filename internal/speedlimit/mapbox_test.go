package speedlimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"eco-drive-assistant/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	cur  = models.Coordinates{Latitude: 52.2053, Longitude: 0.1218}
	prev = models.Coordinates{Latitude: 52.2051, Longitude: 0.1215}
)

func serve(t *testing.T, status int, body string) (*Client, *url.URL) {
	t.Helper()
	got := &url.URL{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = *r.URL
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "tok"), got
}

func TestLookupMostConfident(t *testing.T) {
	c, u := serve(t, http.StatusOK, `{
		"code": "Ok",
		"matchings": [
			{"confidence": 0.2, "legs": [{"annotation": {"maxspeed": [{"speed": 30, "unit": "mph"}]}}]},
			{"confidence": 0.9, "legs": [{"annotation": {"maxspeed": [{"speed": 48, "unit": "km/h"}, {"speed": 64, "unit": "km/h"}]}}]}
		]
	}`)

	limit, err := c.Lookup(context.Background(), cur, prev)
	require.NoError(t, err)
	require.NotNil(t, limit)
	assert.Equal(t, 48.0, *limit)

	assert.Equal(t, "/matching/v5/mapbox/driving/0.1218,52.2053;0.1215,52.2051", u.Path)
	assert.Equal(t, "maxspeed", u.Query().Get("annotations"))
	assert.Equal(t, "full", u.Query().Get("overview"))
	assert.Equal(t, "tok", u.Query().Get("access_token"))
}

func TestLookupMph(t *testing.T) {
	c, _ := serve(t, http.StatusOK, `{
		"code": "Ok",
		"matchings": [{"confidence": 0.5, "legs": [{"annotation": {"maxspeed": [{"speed": 70, "unit": "mph"}]}}]}]
	}`)

	limit, err := c.Lookup(context.Background(), cur, prev)
	require.NoError(t, err)
	require.NotNil(t, limit)
	assert.InDelta(t, 112.65408, *limit, 1e-9)
}

func TestLookupNoLimit(t *testing.T) {
	for name, body := range map[string]string{
		"unknown":      `{"code": "Ok", "matchings": [{"confidence": 0.5, "legs": [{"annotation": {"maxspeed": [{"unknown": true}]}}]}]}`,
		"none":         `{"code": "Ok", "matchings": [{"confidence": 0.5, "legs": [{"annotation": {"maxspeed": [{"none": true}]}}]}]}`,
		"no matchings": `{"code": "Ok", "matchings": []}`,
		"no legs":      `{"code": "Ok", "matchings": [{"confidence": 0.5, "legs": []}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			c, _ := serve(t, http.StatusOK, body)
			limit, err := c.Lookup(context.Background(), cur, prev)
			require.NoError(t, err)
			assert.Nil(t, limit)
		})
	}
}

func TestLookupErrors(t *testing.T) {
	c, _ := serve(t, http.StatusOK, `{"code": "NoMatch", "message": "Could not match"}`)
	_, err := c.Lookup(context.Background(), cur, prev)
	assert.ErrorContains(t, err, "NoMatch")

	c, _ = serve(t, http.StatusUnauthorized, `{"message": "Not Authorized"}`)
	_, err = c.Lookup(context.Background(), cur, prev)
	assert.Error(t, err)

	c, _ = serve(t, http.StatusOK, `not json`)
	_, err = c.Lookup(context.Background(), cur, prev)
	assert.Error(t, err)
}

func TestLookupDisabled(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "")
	assert.False(t, c.Enabled())

	limit, err := c.Lookup(context.Background(), cur, prev)
	require.NoError(t, err)
	assert.Nil(t, limit)
}
