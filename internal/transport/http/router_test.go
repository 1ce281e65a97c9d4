package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"mlsrelay/internal/authz"
	"mlsrelay/internal/config"
	"mlsrelay/internal/domain"
	"mlsrelay/internal/dto"
	"mlsrelay/internal/observability/metrics"
	"mlsrelay/internal/service"
	"mlsrelay/internal/store"
	transport "mlsrelay/internal/transport/http"
)

const (
	testSecret = "test-secret"
	testIssuer = "http://localhost:8081"
)

func TestMain(m *testing.M) {
	metrics.MustRegister("relay")
	os.Exit(m.Run())
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(domain.Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	cfg := config.Config{
		SigningKey: testSecret,
		Issuer:     testIssuer,
		RateLimit:  1000,
		RatePeriod: time.Minute,
	}
	svc := service.New(store.New(db))
	srv := httptest.NewServer(transport.NewRouter(svc, cfg))
	t.Cleanup(srv.Close)
	return srv
}

func bearerToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID.String(),
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, method, url, token string, deviceID *uuid.UUID, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if deviceID != nil {
		req.Header.Set(authz.DeviceHeader, deviceID.String())
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestRouterRejectsUnauthenticated(t *testing.T) {
	srv := newServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/queue/pending", "", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	badToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uuid.New().String(),
	})
	signed, _ := badToken.SignedString([]byte("wrong-secret"))
	resp = doJSON(t, http.MethodGet, srv.URL+"/queue/pending", signed, nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", resp.StatusCode)
	}
}

func TestRouterRequiresDeviceHeader(t *testing.T) {
	srv := newServer(t)
	token := bearerToken(t, uuid.New())

	resp := doJSON(t, http.MethodPost, srv.URL+"/messages/group", token, nil, dto.SendGroupMessageRequest{
		GroupID: "g", MessageType: "application", Data: []byte("m"),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without device header, got %d", resp.StatusCode)
	}
}

func TestRouterKeyPackageRoundTrip(t *testing.T) {
	srv := newServer(t)

	publisher := uuid.New()
	device := uuid.New()
	token := bearerToken(t, publisher)

	resp := doJSON(t, http.MethodPost, srv.URL+"/key-packages", token, &device, dto.PublishKeyPackagesRequest{
		KeyPackages: []dto.KeyPackage{{Data: []byte("kp"), Hash: "h1"}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on publish, got %d", resp.StatusCode)
	}
	var published dto.PublishKeyPackagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&published); err != nil {
		t.Fatalf("decode publish response: %v", err)
	}
	if published.Stored != 1 {
		t.Fatalf("expected 1 stored, got %d", published.Stored)
	}

	fetcher := bearerToken(t, uuid.New())
	resp = doJSON(t, http.MethodGet, srv.URL+"/key-package/"+publisher.String(), fetcher, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on fetch, got %d", resp.StatusCode)
	}
	var fetched dto.FetchKeyPackagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode fetch response: %v", err)
	}
	if len(fetched.KeyPackages) != 1 || fetched.KeyPackages[0].Hash != "h1" {
		t.Fatalf("unexpected fetch result %+v", fetched)
	}

	// Pool of one is now empty.
	resp = doJSON(t, http.MethodGet, srv.URL+"/key-package/"+publisher.String(), fetcher, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on exhausted pool, got %d", resp.StatusCode)
	}
}
