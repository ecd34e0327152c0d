package handlers

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/harentsoaR/fablab-api/internal/cache"
	"github.com/harentsoaR/fablab-api/internal/middleware"
	"github.com/harentsoaR/fablab-api/internal/services"
	"github.com/harentsoaR/fablab-api/internal/storage"
	"github.com/harentsoaR/fablab-api/internal/store/memstore"
	"github.com/harentsoaR/fablab-api/internal/utils"
)

type APISuite struct {
	suite.Suite
	router *gin.Engine
	tokens *utils.TokenVerifier

	student string
	other   string
	staff   string
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	st := memstore.New()
	s.tokens = utils.NewTokenVerifier("handler-test-secret", "", "")

	objects, err := storage.NewLocal(s.T().TempDir(), "http://localhost:8080")
	s.Require().NoError(err)

	identity := services.NewIdentityService(s.tokens, st.Users, log)
	catalog := services.NewCatalogService(st.Services, st.Equipment, cache.Noop{}, log)
	h := NewHandler(
		identity,
		catalog,
		services.NewCheckoutService(st, catalog, log),
		services.NewOrderService(st, services.NewNotificationService(st.Outbox), log),
		services.NewImageUploadService(objects, log),
	)

	s.router = gin.New()
	s.router.Use(middleware.Recovery(log), middleware.Timeout(5*time.Second))
	h.RegisterRoutes(s.router)

	s.student = s.register("idp|student", "student")
	s.other = s.register("idp|other", "student")
	s.staff = s.register("idp|staff", "staff")
}

func (s *APISuite) token(sub string) string {
	tok, err := s.tokens.Sign(sub, sub+"@uni.edu", sub, time.Hour)
	s.Require().NoError(err)
	return tok
}

func (s *APISuite) register(sub, role string) string {
	tok := s.token(sub)
	w := s.do(http.MethodPost, "/api/auth/register", tok, map[string]any{"role": role})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	return tok
}

func (s *APISuite) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *APISuite) createEquipment(name string) string {
	w := s.do(http.MethodPost, "/api/equipment", s.staff, map[string]any{"name": name})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	return decode[map[string]any](s.T(), w)["id"].(string)
}

func (s *APISuite) TestRegisterIsIdempotent() {
	w := s.do(http.MethodPost, "/api/auth/register", s.student, map[string]any{"role": "staff"})
	s.Equal(http.StatusOK, w.Code)
	user := decode[map[string]map[string]any](s.T(), w)["user"]
	s.Equal("student", user["role"])
}

func (s *APISuite) TestRegisterExternalIDMismatch() {
	w := s.do(http.MethodPost, "/api/auth/register", s.token("idp|x"), map[string]any{"externalId": "idp|y"})
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *APISuite) TestAuthErrors() {
	w := s.do(http.MethodGet, "/api/auth/me", "", nil)
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal("Authorization header required", decode[map[string]string](s.T(), w)["error"])

	w = s.do(http.MethodGet, "/api/auth/me", "garbage", nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/auth/me", s.token("idp|unregistered"), nil)
	s.Equal(http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/auth/me", s.student, nil)
	s.Equal(http.StatusOK, w.Code)
}

func (s *APISuite) TestUpdateProfileIgnoresRole() {
	w := s.do(http.MethodPatch, "/api/auth/me", s.student, map[string]any{"name": "New Name", "role": "staff"})
	s.Require().Equal(http.StatusOK, w.Code)
	body := decode[map[string]any](s.T(), w)
	s.Equal("New Name", body["name"])
	s.Equal("student", body["role"])
}

func (s *APISuite) TestStaffOnlyRoutes() {
	w := s.do(http.MethodPost, "/api/services", s.student, map[string]any{"name": "Laser"})
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/checkouts", s.student, nil)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/services", "", map[string]any{"name": "Laser"})
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *APISuite) TestServiceListingByRole() {
	w := s.do(http.MethodPost, "/api/services", s.staff, map[string]any{"name": "Laser", "basePrice": 10})
	s.Require().Equal(http.StatusCreated, w.Code)
	w = s.do(http.MethodPost, "/api/services", s.staff, map[string]any{"name": "Old mill", "basePrice": 10})
	s.Require().Equal(http.StatusCreated, w.Code)
	oldID := decode[map[string]any](s.T(), w)["id"].(string)

	w = s.do(http.MethodDelete, "/api/services/"+oldID, s.staff, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	public := decode[[]map[string]any](s.T(), s.do(http.MethodGet, "/api/services", "", nil))
	s.Len(public, 1)

	staffView := decode[[]map[string]any](s.T(), s.do(http.MethodGet, "/api/services", s.staff, nil))
	s.Len(staffView, 2)

	w = s.do(http.MethodGet, "/api/services/"+oldID, "", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal(false, decode[map[string]any](s.T(), w)["active"])
}

func (s *APISuite) TestInvalidID() {
	w := s.do(http.MethodGet, "/api/equipment/not-an-id", "", nil)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(decode[map[string]string](s.T(), w), "error")
}

func (s *APISuite) TestCheckoutFlow() {
	eqID := s.createEquipment("Prusa MK4")
	due := time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339)

	w := s.do(http.MethodPost, "/api/checkouts/request", s.student, map[string]any{"equipmentId": eqID, "dueDate": due})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	first := decode[map[string]any](s.T(), w)["id"].(string)

	time.Sleep(2 * time.Millisecond)
	w = s.do(http.MethodPost, "/api/checkouts/request", s.other, map[string]any{"equipmentId": eqID, "dueDate": due})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	second := decode[map[string]any](s.T(), w)["id"].(string)

	w = s.do(http.MethodPost, "/api/checkouts/"+second+"/approve", s.staff, nil)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(decode[map[string]string](s.T(), w)["error"], "earlier pending requests")

	w = s.do(http.MethodPost, "/api/checkouts/"+first+"/approve", s.staff, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Equal("approved", decode[map[string]any](s.T(), w)["status"])

	w = s.do(http.MethodGet, "/api/checkouts/"+second, s.other, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	denied := decode[map[string]any](s.T(), w)
	s.Equal("denied", denied["status"])
	s.Contains(denied["denialReason"], "checked out to another student")

	w = s.do(http.MethodGet, "/api/checkouts/"+first, s.other, nil)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/equipment/"+eqID, "", nil)
	s.Equal("checked_out", decode[map[string]any](s.T(), w)["status"])

	w = s.do(http.MethodPost, "/api/checkouts/"+first+"/return", s.staff, nil)
	s.Equal(http.StatusOK, w.Code)
	w = s.do(http.MethodPost, "/api/checkouts/"+first+"/return", s.staff, nil)
	s.Equal(http.StatusBadRequest, w.Code)

	mine := decode[[]map[string]any](s.T(), s.do(http.MethodGet, "/api/checkouts/me", s.student, nil))
	s.Len(mine, 1)

	deniedList := decode[[]map[string]any](s.T(), s.do(http.MethodGet, "/api/checkouts?status=denied", s.staff, nil))
	s.Len(deniedList, 1)
}

func (s *APISuite) TestCheckoutPatchRejectsImmutableFields() {
	eqID := s.createEquipment("Scope")
	due := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	w := s.do(http.MethodPost, "/api/checkouts/request", s.student, map[string]any{"equipmentId": eqID, "dueDate": due})
	s.Require().Equal(http.StatusCreated, w.Code)
	id := decode[map[string]any](s.T(), w)["id"].(string)

	for _, field := range []string{"status", "equipmentId", "requesterUserId", "createdAt", "_id", "id"} {
		w = s.do(http.MethodPatch, "/api/checkouts/"+id, s.staff, map[string]any{field: "x", "notes": "n"})
		s.Equal(http.StatusBadRequest, w.Code, field)
	}

	w = s.do(http.MethodPatch, "/api/checkouts/"+id, s.staff, map[string]any{"notes": "Bring ID"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	body := decode[map[string]any](s.T(), w)
	s.Equal("Bring ID", body["notes"])
	s.Equal("pending", body["status"])
}

func (s *APISuite) TestDenyWithoutBody() {
	eqID := s.createEquipment("Lathe")
	due := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	w := s.do(http.MethodPost, "/api/checkouts/request", s.student, map[string]any{"equipmentId": eqID, "dueDate": due})
	s.Require().Equal(http.StatusCreated, w.Code)
	id := decode[map[string]any](s.T(), w)["id"].(string)

	w = s.do(http.MethodPost, "/api/checkouts/"+id+"/deny", s.staff, nil)
	s.Equal(http.StatusOK, w.Code, w.Body.String())
}

func (s *APISuite) TestOrderFlow() {
	w := s.do(http.MethodPost, "/api/services", s.staff, map[string]any{
		"name": "PLA", "priceType": "per_unit", "pricePerUnit": 0.10, "unitLabel": "g",
	})
	s.Require().Equal(http.StatusCreated, w.Code)
	svcID := decode[map[string]any](s.T(), w)["id"].(string)

	w = s.do(http.MethodPost, "/api/orders", s.student, map[string]any{
		"items": []map[string]any{{"serviceId": svcID, "quantity": 250}},
		"notes": "Red please",
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	order := decode[map[string]any](s.T(), w)
	s.Equal(25.0, order["totalPrice"])
	s.Equal("submitted", order["status"])
	id := order["id"].(string)
	number := order["orderNumber"].(string)

	w = s.do(http.MethodGet, "/api/orders/"+id, s.other, nil)
	s.Equal(http.StatusForbidden, w.Code)
	s.Empty(decode[[]map[string]any](s.T(), s.do(http.MethodGet, "/api/orders", s.other, nil)))

	w = s.do(http.MethodPatch, "/api/orders/"+id, s.student, map[string]any{"status": "completed"})
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(http.MethodPatch, "/api/orders/"+id, s.staff, map[string]any{
		"status": "in-progress", "orderNumber": "HACKED", "createdAt": "2000-01-01T00:00:00Z",
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	updated := decode[map[string]any](s.T(), w)
	s.Equal("in-progress", updated["status"])
	s.Equal(number, updated["orderNumber"])

	w = s.do(http.MethodPatch, "/api/orders/"+id, s.staff, map[string]any{"status": "shipped"})
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.do(http.MethodDelete, "/api/orders/"+id, s.staff, nil)
	s.Equal(http.StatusOK, w.Code)
	w = s.do(http.MethodGet, "/api/orders/"+id, s.staff, nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *APISuite) TestOrderRejectsBadItems() {
	w := s.do(http.MethodPost, "/api/orders", s.student, map[string]any{"items": []any{}})
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/orders", s.student, map[string]any{
		"items": []map[string]any{{"serviceId": "nope", "quantity": 1}},
	})
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *APISuite) upload(token string, content []byte) *httptest.ResponseRecorder {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "photo.png")
	s.Require().NoError(err)
	_, err = fw.Write(content)
	s.Require().NoError(err)
	s.Require().NoError(mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload/equipment-image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *APISuite) TestUploadEquipmentImage() {
	var img bytes.Buffer
	s.Require().NoError(png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 640, 480))))

	w := s.upload(s.staff, img.Bytes())
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	out := decode[map[string]string](s.T(), w)
	s.Contains(out["imageUrl"], "http://localhost:8080/uploads/equipment/")
	s.Contains(out["thumbUrl"], "-thumb.jpg")

	w = s.upload(s.staff, []byte("just some text"))
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.upload(s.student, img.Bytes())
	s.Equal(http.StatusForbidden, w.Code)
}

func TestErrorBodyShape(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x/:id", func(c *gin.Context) {
		if _, ok := parseID(c); !ok {
			return
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x/123", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Invalid ID format"}`, w.Body.String())
}
