package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-tracking/internal/models"
)

// fakeProvider is an httptest server speaking the provider API.
type fakeProvider struct {
	*httptest.Server
	mux        *http.ServeMux
	authCalls  atomic.Int32
	authStatus int
	authBody   string
	authDelay  time.Duration
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{
		mux:        http.NewServeMux(),
		authStatus: http.StatusOK,
		authBody:   `{"access_token":"tok-1","expires_in":3600}`,
	}
	fp.mux.HandleFunc("POST /api/auth/token", func(w http.ResponseWriter, r *http.Request) {
		fp.authCalls.Add(1)
		if fp.authDelay > 0 {
			time.Sleep(fp.authDelay)
		}
		w.WriteHeader(fp.authStatus)
		io.WriteString(w, fp.authBody)
	})
	fp.Server = httptest.NewServer(fp.mux)
	t.Cleanup(fp.Close)
	return fp
}

func (fp *fakeProvider) handleJSON(pattern, body string) {
	fp.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	})
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestClient(url string, opts ...Option) *Client {
	return NewClient(Config{BaseURL: url, AppID: "A-TRACKER", AppKey: "secret"}, quietLogger(), opts...)
}

func TestAuthenticate_Success(t *testing.T) {
	fp := newFakeProvider(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(fp.URL, WithClock(func() time.Time { return now }))

	fp.authBody = `{"access_token":"tok-1","expires_in":120}`
	require.NoError(t, c.Authenticate(context.Background()))

	assert.Equal(t, "tok-1", c.token)
	assert.Equal(t, now.Add(120*time.Second), c.expiry)
	assert.Equal(t, int32(1), fp.authCalls.Load())
}

func TestAuthenticate_SendsCredentials(t *testing.T) {
	var got tokenRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/token", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"token":"tok-2"}`)
	}))
	defer srv.Close()

	now := time.Now()
	c := newTestClient(srv.URL, WithClock(func() time.Time { return now }))
	require.NoError(t, c.Authenticate(context.Background()))

	assert.Equal(t, tokenRequest{AppID: "A-TRACKER", AppKey: "secret"}, got)
	assert.Equal(t, "tok-2", c.token, "falls back to the token field")
	assert.Equal(t, now.Add(defaultTokenTTL), c.expiry, "defaults to one hour")
}

func TestAuthenticate_NonOKKeepsPriorToken(t *testing.T) {
	fp := newFakeProvider(t)
	fp.authStatus = http.StatusUnauthorized
	fp.authBody = `{"error":"bad credentials"}`
	c := newTestClient(fp.URL)
	expiry := time.Now().Add(time.Hour)
	c.token, c.expiry = "old", expiry

	var err error
	assert.NotPanics(t, func() { err = c.Authenticate(context.Background()) })
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.Equal(t, "old", c.token)
	assert.Equal(t, expiry, c.expiry)
}

func TestAuthenticate_MissingToken(t *testing.T) {
	fp := newFakeProvider(t)
	fp.authBody = `{"expires_in":3600}`
	c := newTestClient(fp.URL)

	err := c.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Empty(t, c.token)
}

func TestAuthenticate_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(url)
	assert.ErrorIs(t, c.Authenticate(context.Background()), ErrUnavailable)
}

func TestEnsureAuthenticated_RefreshWindow(t *testing.T) {
	tests := []struct {
		name        string
		token       string
		expiresIn   time.Duration
		wantRefresh bool
	}{
		{"no token", "", 0, true},
		{"expires in 30s", "tok", 30 * time.Second, true},
		{"expires in exactly 60s", "tok", 60 * time.Second, true},
		{"expires in 120s", "tok", 120 * time.Second, false},
		{"already expired", "tok", -time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t)
			now := time.Now()
			c := newTestClient(fp.URL, WithClock(func() time.Time { return now }))
			c.token, c.expiry = tt.token, now.Add(tt.expiresIn)

			c.ensureAuthenticated(context.Background())

			if tt.wantRefresh {
				assert.Equal(t, int32(1), fp.authCalls.Load())
				assert.Equal(t, "tok-1", c.token)
			} else {
				assert.Equal(t, int32(0), fp.authCalls.Load())
				assert.Equal(t, "tok", c.token)
			}
		})
	}
}

func TestEnsureAuthenticated_CoalescesConcurrentRefresh(t *testing.T) {
	fp := newFakeProvider(t)
	fp.authDelay = 50 * time.Millisecond
	fp.handleJSON("GET /api/devices", `{"devices":[]}`)
	c := newTestClient(fp.URL)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Devices(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fp.authCalls.Load())
}

func TestEnsureAuthenticated_RefreshOutlivesCancelledCaller(t *testing.T) {
	fp := newFakeProvider(t)
	fp.authDelay = 100 * time.Millisecond
	fp.mux.HandleFunc("GET /api/devices", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"devices":[{"imei":"1"}]}`)
	})
	c := newTestClient(fp.URL)

	hungUp, cancel := context.WithCancel(context.Background())
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		c.Devices(hungUp)
	}()
	require.Eventually(t, func() bool { return fp.authCalls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	devices, err := c.Devices(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 1)
	assert.Equal(t, int32(1), fp.authCalls.Load())

	select {
	case <-firstDone:
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}
}

func TestRequestHeaders(t *testing.T) {
	fp := newFakeProvider(t)
	fp.mux.HandleFunc("GET /api/devices", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "A-TRACKER", r.Header.Get("X-App-Id"))
		io.WriteString(w, `{"devices":[]}`)
	})
	c := newTestClient(fp.URL)

	_, err := c.Devices(context.Background())
	assert.NoError(t, err)
}

func TestDevices_NetworkErrorIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := newTestClient(url)

	var devices []models.Device
	var err error
	assert.NotPanics(t, func() { devices, err = c.Devices(context.Background()) })

	assert.NotNil(t, devices)
	assert.Empty(t, devices)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDevices_Envelopes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantIMEIs []string
		wantErr   error
	}{
		{"devices field", `{"devices":[{"imei":"1"}]}`, []string{"1"}, nil},
		{"data field", `{"data":[{"imei":"2"}]}`, []string{"2"}, nil},
		{"devices wins over data", `{"devices":[{"imei":"1"}],"data":[{"imei":"2"}]}`, []string{"1"}, nil},
		{"null devices falls through", `{"devices":null,"data":[{"imei":"2"}]}`, []string{"2"}, nil},
		{"empty list is valid", `{"devices":[]}`, []string{}, nil},
		{"no known field", `{"items":[{"imei":"1"}]}`, []string{}, ErrMalformedResponse},
		{"not an object", `[{"imei":"1"}]`, []string{}, ErrMalformedResponse},
		{"wrong shape", `{"devices":{"imei":"1"}}`, []string{}, ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t)
			fp.handleJSON("GET /api/devices", tt.body)
			c := newTestClient(fp.URL)

			devices, err := c.Devices(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			imeis := []string{}
			for _, d := range devices {
				imeis = append(imeis, d.IMEI)
			}
			assert.Equal(t, tt.wantIMEIs, imeis)
		})
	}
}

func TestDevices_MixedTimestampFormats(t *testing.T) {
	fp := newFakeProvider(t)
	fp.handleJSON("GET /api/devices", `{"devices":[
		{"imei":"1","lastUpdate":"2024-03-01T09:00:00Z"},
		{"imei":"2","lastUpdate":"2024-03-01 09:00:00"},
		{"imei":"3","lastUpdate":"yesterday"},
		{"imei":"4","lastUpdate":""}
	]}`)
	c := newTestClient(fp.URL)

	devices, err := c.Devices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 4)

	want := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	assert.True(t, devices[0].LastUpdate.Equal(want))
	assert.True(t, devices[1].LastUpdate.Equal(want), "zoneless time is read as UTC")
	assert.True(t, devices[2].LastUpdate.IsZero(), "unknown format keeps the record")
	assert.True(t, devices[3].LastUpdate.IsZero())
}

func TestDevices_ServerError(t *testing.T) {
	fp := newFakeProvider(t)
	fp.mux.HandleFunc("GET /api/devices", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := newTestClient(fp.URL)

	devices, err := c.Devices(context.Background())
	assert.Empty(t, devices)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
}

func TestDeviceByIMEI(t *testing.T) {
	fp := newFakeProvider(t)
	fp.handleJSON("GET /api/devices/123456789",
		`{"device":{"id":"d1","imei":"123456789","name":"Truck 1","status":"online","lastUpdate":"2026-01-01T10:00:00Z","position":{"lat":6.5,"lng":3.3,"speed":-1,"course":450}}}`)
	fp.mux.HandleFunc("GET /api/devices/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	c := newTestClient(fp.URL)

	device, err := c.DeviceByIMEI(context.Background(), "123456789")
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, "Truck 1", device.Name)
	assert.Equal(t, models.DeviceOnline, device.Status)
	require.NotNil(t, device.Position)
	assert.Equal(t, 0.0, device.Position.Speed)
	assert.InDelta(t, 90, device.Position.Course, 1e-9)

	missing, err := c.DeviceByIMEI(context.Background(), "missing")
	assert.Nil(t, missing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLastPosition_DeliveryScenario(t *testing.T) {
	fp := newFakeProvider(t)
	fp.handleJSON("GET /api/devices/123456789/position",
		`{"position":{"lat":6.5,"lng":3.3,"speed":45,"course":90,"timestamp":"2026-01-01T10:00:00Z"}}`)
	c := newTestClient(fp.URL)

	pos, err := c.LastPosition(context.Background(), "123456789")
	require.NoError(t, err)
	require.NotNil(t, pos)

	eta := c.EstimateArrival(*pos, 6.6, 3.3)
	assert.InDelta(t, 11.1, eta.Distance, 0.1)
	assert.Equal(t, 15, eta.EstimatedMinutes)
}

func TestLastPosition_MissingField(t *testing.T) {
	fp := newFakeProvider(t)
	fp.handleJSON("GET /api/devices/1/position", `{"status":"ok"}`)
	c := newTestClient(fp.URL)

	pos, err := c.LastPosition(context.Background(), "1")
	assert.Nil(t, pos)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestLastPosition_EpochTimestamp(t *testing.T) {
	fp := newFakeProvider(t)
	fp.handleJSON("GET /api/devices/1/position", `{"position":{"lat":6.5,"lng":3.3,"timestamp":1709283600000}}`)
	c := newTestClient(fp.URL)

	pos, err := c.LastPosition(context.Background(), "1")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), pos.Timestamp.Time)
}

func TestAllPositions(t *testing.T) {
	fp := newFakeProvider(t)
	fp.handleJSON("GET /api/positions",
		`{"data":[{"imei":"1","position":{"lat":1,"lng":2,"speed":10}},{"imei":"2","position":{"lat":3,"lng":4,"speed":0}}]}`)
	c := newTestClient(fp.URL)

	positions, err := c.AllPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "2", positions[1].IMEI)
	assert.Equal(t, 3.0, positions[1].Position.Lat)
}

func TestTrackHistory(t *testing.T) {
	fp := newFakeProvider(t)
	fp.mux.HandleFunc("GET /api/devices/1/track", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2026-01-01T08:00:00.000Z", r.URL.Query().Get("from"))
		assert.Equal(t, "2026-01-01T09:30:00.000Z", r.URL.Query().Get("to"))
		io.WriteString(w, `{"track":[
			{"lat":1,"lng":1,"speed":10,"timestamp":"2026-01-01T08:00:00Z"},
			{"lat":1.1,"lng":1,"speed":20,"timestamp":"2026-01-01T08:05:00Z"},
			{"lat":1.2,"lng":1,"speed":30,"timestamp":"2026-01-01T08:10:00Z"}]}`)
	})
	c := newTestClient(fp.URL)

	from := time.Date(2026, 1, 1, 9, 0, 0, 0, time.FixedZone("WAT", 3600))
	to := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	track, err := c.TrackHistory(context.Background(), "1", from, to)
	require.NoError(t, err)
	require.Len(t, track, 3)
	for i := 1; i < len(track); i++ {
		assert.True(t, track[i].Timestamp.After(track[i-1].Timestamp.Time))
	}
}

func TestAlerts_Query(t *testing.T) {
	tests := []struct {
		name      string
		imei      string
		limit     int
		wantLimit string
		wantIMEI  string
	}{
		{"defaults", "", 0, "50", ""},
		{"one device", "123", 10, "10", "123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t)
			fp.mux.HandleFunc("GET /api/alerts", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.wantLimit, r.URL.Query().Get("limit"))
				assert.Equal(t, tt.wantIMEI, r.URL.Query().Get("imei"))
				io.WriteString(w, `{"alerts":[{"id":"a1","deviceId":"123","type":"overspeed","message":"120 km/h"}]}`)
			})
			c := newTestClient(fp.URL)

			alerts, err := c.Alerts(context.Background(), tt.imei, tt.limit)
			require.NoError(t, err)
			require.Len(t, alerts, 1)
			assert.Equal(t, models.AlertOverspeed, alerts[0].Type)
		})
	}
}

func TestCreateGeofence(t *testing.T) {
	fp := newFakeProvider(t)
	var posted map[string]interface{}
	fp.mux.HandleFunc("POST /api/geofences", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&posted)
		io.WriteString(w, `{"geofence":{"id":"g1","name":"depot","type":"circle","coordinates":[{"lat":6.5,"lng":3.3}],"radius":500}}`)
	})
	c := newTestClient(fp.URL)

	fence := models.Geofence{ID: "ignored", Name: "depot", Type: models.GeofenceCircle,
		Coordinates: []models.Coordinate{{Lat: 6.5, Lng: 3.3}}, Radius: 500}
	created, err := c.CreateGeofence(context.Background(), fence)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "g1", created.ID)
	assert.NotContains(t, posted, "id")
	assert.Equal(t, "circle", posted["type"])
}

func TestCreateGeofence_InvalidSkipsProvider(t *testing.T) {
	fp := newFakeProvider(t)
	c := newTestClient(fp.URL)

	created, err := c.CreateGeofence(context.Background(), models.Geofence{Name: "bad", Type: models.GeofencePolygon})
	assert.Nil(t, created)
	assert.Error(t, err)
	assert.Equal(t, int32(0), fp.authCalls.Load())
}

func TestAssignDevice(t *testing.T) {
	fp := newFakeProvider(t)
	var body assignRequest
	fp.mux.HandleFunc("POST /api/devices/123/assign", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	})
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	c := newTestClient(fp.URL, WithClock(func() time.Time { return now }))

	require.NoError(t, c.AssignDevice(context.Background(), "123", "veh-9", "tr-4"))
	assert.Equal(t, assignRequest{VehicleID: "veh-9", TransporterID: "tr-4", AssignedAt: "2026-03-01T08:00:00.000Z"}, body)
}

func TestSendCommand(t *testing.T) {
	fp := newFakeProvider(t)
	var body commandRequest
	fp.mux.HandleFunc("POST /api/devices/123/command", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	})
	fp.mux.HandleFunc("POST /api/devices/456/command", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	c := newTestClient(fp.URL)

	assert.NoError(t, c.SendCommand(context.Background(), "123", models.CommandEngineOff))
	assert.Equal(t, models.CommandEngineOff, body.Command)

	assert.Error(t, c.SendCommand(context.Background(), "456", models.CommandLock))
	assert.ErrorIs(t, c.SendCommand(context.Background(), "123", "explode"), ErrInvalidCommand)
}
