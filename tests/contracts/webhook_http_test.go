package contracts

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/webhooklab/internal/webhook/application"
	webhookHttp "github.com/davicafu/webhooklab/internal/webhook/infra/inbound/http"
	"github.com/davicafu/webhooklab/tests/mocks"
)

// webhookHTTPResponse define el formato que esperamos en las respuestas JSON
type webhookHTTPResponse struct {
	ID         string   `json:"id"`
	OwnerKey   string   `json:"owner_key"`
	TargetURL  string   `json:"target_url"`
	EventTypes []string `json:"event_types"`
	Enabled    bool     `json:"enabled"`
}

func newTestRouter() (*gin.Engine, *mocks.InMemorySubscriptionRepo, *mocks.InMemoryDeliveryRepo) {
	gin.SetMode(gin.TestMode)

	subs := mocks.NewInMemorySubscriptionRepo()
	deliveries := mocks.NewInMemoryDeliveryRepo()
	service := application.NewSubscriptionService(subs, deliveries, nil, zap.NewNop())
	dispatcher := application.NewDispatcher(subs, deliveries, nil, zap.NewNop())

	router := gin.New()
	webhookHttp.RegisterWebhookRoutes(router, webhookHttp.NewWebhookHandler(service))
	webhookHttp.RegisterEventRoutes(router, webhookHttp.NewEventHandler(dispatcher))
	return router, subs, deliveries
}

func doJSON(router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateWebhook_HTTPContract(t *testing.T) {
	router, _, _ := newTestRouter()

	body := map[string]interface{}{
		"target_url":  "https://example.com/hook",
		"event_types": []string{"payment.created"},
		"secret":      "top-secret",
	}

	// Sin API key -> 401
	rec := doJSON(router, http.MethodPost, "/v1/webhooks/", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Alta correcta -> 201 con la suscripción (y sin el secreto)
	rec = doJSON(router, http.MethodPost, "/v1/webhooks/", body, map[string]string{"X-API-Key": "acme"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp webhookHTTPResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "acme", resp.OwnerKey)
	assert.Equal(t, "https://example.com/hook", resp.TargetURL)
	assert.True(t, resp.Enabled)
	assert.NotContains(t, rec.Body.String(), "top-secret")

	// Cuerpo inválido -> 400
	rec = doJSON(router, http.MethodPost, "/v1/webhooks/", map[string]interface{}{
		"target_url": "not a url",
	}, map[string]string{"X-API-Key": "acme"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateWebhook_IdempotencyContract(t *testing.T) {
	router, subs, _ := newTestRouter()

	body := map[string]interface{}{
		"target_url":  "https://example.com/hook",
		"event_types": []string{"payment.created"},
	}
	headers := map[string]string{
		"X-API-Key":       "acme",
		"Idempotency-Key": "create-1",
	}

	rec1 := doJSON(router, http.MethodPost, "/v1/webhooks/", body, headers)
	require.Equal(t, http.StatusCreated, rec1.Code)
	var first webhookHTTPResponse
	require.NoError(t, json.Unmarshal(rec1.Body.Bytes(), &first))

	// Repetir la misma petición devuelve la misma suscripción, no un duplicado.
	rec2 := doJSON(router, http.MethodPost, "/v1/webhooks/", body, headers)
	require.Equal(t, http.StatusCreated, rec2.Code)
	var second webhookHTTPResponse
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &second))

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, subs.Subs, 1)
}

func TestGetWebhook_HTTPContract(t *testing.T) {
	router, _, _ := newTestRouter()

	rec := doJSON(router, http.MethodPost, "/v1/webhooks/", map[string]interface{}{
		"target_url":  "https://example.com/hook",
		"event_types": []string{"x"},
	}, map[string]string{"X-API-Key": "acme"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created webhookHTTPResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// El dueño la ve.
	rec = doJSON(router, http.MethodGet, "/v1/webhooks/"+created.ID, nil, map[string]string{"X-API-Key": "acme"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Otro owner recibe 404, no 403: no filtramos existencia.
	rec = doJSON(router, http.MethodGet, "/v1/webhooks/"+created.ID, nil, map[string]string{"X-API-Key": "globex"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Id malformado -> 400
	rec = doJSON(router, http.MethodGet, "/v1/webhooks/not-a-uuid", nil, map[string]string{"X-API-Key": "acme"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestEvent_HTTPContract(t *testing.T) {
	router, _, deliveries := newTestRouter()

	// Suscripción previa que escucha el evento.
	rec := doJSON(router, http.MethodPost, "/v1/webhooks/", map[string]interface{}{
		"target_url":  "https://example.com/hook",
		"event_types": []string{"payment.created"},
	}, map[string]string{"X-API-Key": "acme"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Ingesta -> 202 inmediato con el número de entregas encoladas.
	rec = doJSON(router, http.MethodPost, "/internal/events", map[string]interface{}{
		"event":    "payment.created",
		"ownerKey": "acme",
		"data":     map[string]interface{}{"id": "pay_1", "amount": 500},
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Accepted bool `json:"accepted"`
		Matched  int  `json:"matched"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)
	assert.Equal(t, 1, resp.Matched)
	assert.Len(t, deliveries.Deliveries, 1)

	// Sin coincidencias sigue siendo 202: la ingesta nunca depende del fan-out.
	rec = doJSON(router, http.MethodPost, "/internal/events", map[string]interface{}{
		"event":    "invoice.paid",
		"ownerKey": "acme",
		"data":     map[string]interface{}{},
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Cuerpo sin event u ownerKey -> 400
	rec = doJSON(router, http.MethodPost, "/internal/events", map[string]interface{}{
		"data": map[string]interface{}{},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
