package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycobrun/geofence-service/api"
	"github.com/mycobrun/geofence-service/auth"
	"github.com/mycobrun/geofence-service/errors"
	"github.com/mycobrun/geofence-service/geofence"
	"github.com/mycobrun/geofence-service/logging"
	"github.com/mycobrun/geofence-service/spatial"
)

const testAPIKey = "shared-key"

type fixture struct {
	server *httptest.Server
	store  *geofence.Store
	token  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	index, err := spatial.NewGridIndex()
	require.NoError(t, err)
	store := geofence.NewStore(geofence.NewMemoryRepository(), index)
	engine := geofence.NewEngine(store)

	jwtManager := auth.NewJWTManager(auth.DefaultJWTConfig("test-secret"))
	token, err := jwtManager.GenerateAccessToken("sdk@example.com")
	require.NoError(t, err)

	handler := api.NewRouter(api.RouterConfig{
		Handlers: api.NewHandlers(store, engine, nil, logging.Discard()),
		JWT:      jwtManager,
		APIKey:   testAPIKey,
		BasePath: "/api",
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &fixture{server: srv, store: store, token: token}
}

func (f *fixture) client() *Client {
	return New(DefaultConfig(f.server.URL+"/api/", testAPIKey, f.token))
}

func square(x, y, size float64) [][]float64 {
	return [][]float64{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}}
}

func TestClient_CRUD(t *testing.T) {
	f := newFixture(t)
	c := f.client()
	ctx := context.Background()

	created, err := c.Create(ctx, "depot", square(0, 0, 10), map[string]any{"zone": "north"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, "POLYGON((0 0,10 0,10 10,0 10,0 0))", created.Geom)

	got, err := c.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "depot", got.Name)
	assert.Equal(t, "north", got.Metadata["zone"])

	name := "yard"
	updated, err := c.Update(ctx, created.ID, api.UpdateGeofenceRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "yard", updated.Name)
	assert.Equal(t, created.Geom, updated.Geom)

	list, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "yard", list[0].Name)

	require.NoError(t, c.Delete(ctx, created.ID))

	_, err = c.Get(ctx, created.ID)
	assert.True(t, errors.IsNotFound(err), "got %v", err)
}

func TestClient_Status(t *testing.T) {
	f := newFixture(t)
	c := f.client()
	ctx := context.Background()

	a, err := c.Create(ctx, "a", square(0, 0, 10), nil)
	require.NoError(t, err)
	b, err := c.Create(ctx, "b", square(5, 5, 10), nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		lat, lon float64
		want     []int64
	}{
		{"overlap", 7, 7, []int64{a.ID, b.ID}},
		{"only first", 1, 1, []int64{a.ID}},
		{"on edge", 5, 0, []int64{a.ID}},
		{"outside", 30, 30, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, err := c.Status(ctx, tt.lat, tt.lon)
			require.NoError(t, err)
			assert.NotNil(t, matches)

			ids := make([]int64, 0, len(matches))
			for _, m := range matches {
				ids = append(ids, m.ID)
			}
			if tt.want == nil {
				assert.Empty(t, ids)
				return
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		call  func(c *Client) error
		check func(error) bool
	}{
		{
			name: "malformed geometry",
			call: func(c *Client) error {
				_, err := c.Create(ctx, "bad", [][]float64{{0, 0}, {1, 1}}, nil)
				return err
			},
			check: errors.IsMalformedGeometry,
		},
		{
			name: "validation",
			call: func(c *Client) error {
				_, err := c.Status(ctx, 91, 0)
				return err
			},
			check: errors.IsValidation,
		},
		{
			name: "not found",
			call: func(c *Client) error {
				return c.Delete(ctx, 99)
			},
			check: errors.IsNotFound,
		},
		{
			name: "unauthorized",
			call: func(*Client) error {
				bad := New(DefaultConfig(f.server.URL+"/api", "wrong", f.token))
				_, err := bad.List(ctx)
				return err
			},
			check: errors.IsUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call(f.client())
			require.Error(t, err)
			if !tt.check(err) {
				t.Errorf("unexpected error code %q: %v", errors.Code(err), err)
			}
		})
	}
}

func TestClient_ValidationDetails(t *testing.T) {
	f := newFixture(t)

	_, err := f.client().Status(context.Background(), 0, 200)
	require.Error(t, err)

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errors.CodeValidation, appErr.Code)
	assert.NotEmpty(t, appErr.Details)
}

func TestClient_UnexpectedErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer srv.Close()

	c := New(DefaultConfig(srv.URL, "k", "t"))
	_, err := c.List(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CodeInternal, errors.Code(err))
	assert.Contains(t, err.Error(), "418")
}

func TestClient_SendsCredentials(t *testing.T) {
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("authorization-key")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	list, err := New(DefaultConfig(srv.URL, "k", "tok")).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, "k", gotKey)
	assert.Equal(t, "Bearer tok", gotAuth)
}
