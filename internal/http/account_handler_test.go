package httpapi

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gil-rei/Senzen/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccounts_CreateListGetUpdate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/admin/api/v1/accounts", adminToken, map[string]string{
		"name":              "Eve",
		"email":             "eve@senzen.com",
		"password":          "secret-pw",
		"role":              "caretaker",
		"gender":            "female",
		"assignedPatientId": env.patientID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created domain.AccountView
	decodeResult(t, rec, &created)
	assert.Equal(t, domain.RoleCaretaker, created.Role)
	require.NotNil(t, created.AssignedPatientID)
	assert.Equal(t, env.patientID, *created.AssignedPatientID)

	rec = env.do(t, http.MethodGet, "/admin/api/v1/accounts?role=caretaker&search=ev", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []domain.AccountView `json:"items"`
		Total int                  `json:"total"`
	}
	decodeResult(t, rec, &list)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "Eve", list.Items[0].Name)

	rec = env.do(t, http.MethodPut, "/admin/api/v1/accounts/"+created.AccountID, adminToken, map[string]string{
		"name":  "Eve Adams",
		"email": "eve.adams@senzen.com",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/admin/api/v1/accounts/"+created.AccountID, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.AccountView
	decodeResult(t, rec, &got)
	assert.Equal(t, "Eve Adams", got.Name)
	assert.Equal(t, "eve.adams@senzen.com", got.Email)
}

func TestAccounts_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/admin/api/v1/accounts", adminToken, map[string]string{
		"name":     "Young",
		"email":    "young@senzen.com",
		"password": "secret-pw",
		"role":     "patient",
		"gender":   "male",
		"birthday": "2001/01/01",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/admin/api/v1/accounts/missing", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccounts_Assignment(t *testing.T) {
	env := newTestEnv(t)
	path := "/admin/api/v1/accounts/" + env.caretakerID + "/assignment"

	rec := env.do(t, http.MethodPut, path, adminToken, map[string]any{"patientId": nil})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodGet, "/care/api/v1/tasks", caretakerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// 分配给非 patient 账号
	rec = env.do(t, http.MethodPut, path, adminToken, map[string]any{"patientId": env.adminID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, path, adminToken, map[string]any{"patientId": env.patientID})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for k, data := range files {
		fw, err := mw.CreateFormFile(k, k+".jpg")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestAccounts_CreatePatientWithPhotos(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, map[string]string{
		"name":     "Frank",
		"email":    "frank@senzen.com",
		"password": "secret-pw",
		"role":     "patient",
		"gender":   "male",
		"birthday": "1940/02/03",
	}, map[string][]byte{
		"front": []byte("front-bytes"),
		"back":  []byte("back-bytes"),
	})
	req := httptest.NewRequest(http.MethodPost, "/admin/api/v1/accounts", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created domain.AccountView
	decodeResult(t, rec, &created)
	require.NotNil(t, created.FrontPhoto)
	require.NotNil(t, created.BackPhoto)
	assert.Equal(t, "https://img.test/frank@senzen.com-front.jpg", *created.FrontPhoto)
	assert.Equal(t, "1940-02-03", *created.Birthday)
}

func TestAccounts_UploadPhotosKeepsOtherSide(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, nil, map[string][]byte{"front": []byte("new-front")})
	req := httptest.NewRequest(http.MethodPost, "/admin/api/v1/accounts/"+env.patientID+"/photos", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got domain.AccountView
	decodeResult(t, rec, &got)
	assert.Equal(t, "https://img.test/alice@senzen.com-front.jpg", *got.FrontPhoto)
	assert.Equal(t, "https://img.test/back.jpg", *got.BackPhoto)

	rec = env.do(t, http.MethodPost, "/admin/api/v1/accounts/"+env.patientID+"/photos", adminToken, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccounts_ListPatients(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/admin/api/v1/patients?search=ali", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []domain.AccountView `json:"items"`
	}
	decodeResult(t, rec, &list)
	require.Len(t, list.Items, 1)
	assert.Equal(t, env.patientID, list.Items[0].AccountID)
}

func TestIDPhotos(t *testing.T) {
	env := newTestEnv(t)

	for _, tc := range []struct {
		path, token string
	}{
		{"/care/api/v1/patient/photos", caretakerToken},
		{"/patient/api/v1/photos", patientToken},
	} {
		rec := env.do(t, http.MethodGet, tc.path, tc.token, nil)
		require.Equal(t, http.StatusOK, rec.Code, tc.path)
		var photos domain.IDPhotos
		decodeResult(t, rec, &photos)
		assert.Equal(t, env.patientID, photos.PatientID)
		assert.Equal(t, "https://img.test/front.jpg", photos.FrontURL)
		assert.Equal(t, "https://img.test/back.jpg", photos.BackURL)
	}

	rec := env.do(t, http.MethodGet, "/care/api/v1/patient/photos", loneToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
