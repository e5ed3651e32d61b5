package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type assignRequest struct {
	RoleID        uuid.UUID   `json:"role_id"`
	PermissionIDs []uuid.UUID `json:"permission_ids"`
}

func TestParseJSONOrError(t *testing.T) {
	roleID := uuid.New()
	tests := []struct {
		name       string
		body       string
		maxBytes   int64
		wantOK     bool
		wantStatus int
		wantCode   string
	}{
		{name: "valid", body: `{"role_id":"` + roleID.String() + `","permission_ids":[]}`, wantOK: true},
		{name: "trailing whitespace", body: `{"role_id":"` + roleID.String() + `"}` + "\n", wantOK: true},
		{name: "malformed", body: `{invalid}`, wantStatus: http.StatusBadRequest, wantCode: CodeBadRequest},
		{name: "empty", body: ``, wantStatus: http.StatusBadRequest, wantCode: CodeBadRequest},
		{name: "two documents", body: `{} {}`, wantStatus: http.StatusBadRequest, wantCode: CodeBadRequest},
		{name: "bad id", body: `{"role_id":"nope"}`, wantStatus: http.StatusBadRequest, wantCode: CodeBadRequest},
		{
			name:       "too large",
			body:       `{"permission_ids":["` + strings.Repeat("a", 64) + `"]}`,
			maxBytes:   16,
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   CodeTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/roles/x/permissions", bytes.NewBufferString(tt.body))
			if tt.maxBytes > 0 {
				req.Body = http.MaxBytesReader(w, req.Body, tt.maxBytes)
			}

			var dest assignRequest
			ok := ParseJSONOrError(w, req, &dest)

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, roleID, dest.RoleID)
				return
			}
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
		})
	}
}

func TestParsePathUUID(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name      string
		pathValue string
		want      uuid.UUID
		wantErr   string
	}{
		{name: "valid", pathValue: id.String(), want: id},
		{name: "invalid", pathValue: "123", wantErr: "invalid id for id: 123"},
		{name: "missing", pathValue: "", wantErr: "missing path parameter: id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/roles/x", nil), map[string]string{"id": tt.pathValue})

			got, err := ParsePathUUID(req, "id")
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePathUUIDOrError_Invalid(t *testing.T) {
	w := httptest.NewRecorder()
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/roles/abc", nil), map[string]string{"id": "abc"})

	val, ok := ParsePathUUIDOrError(w, req, "id")

	assert.False(t, ok)
	assert.Equal(t, uuid.Nil, val)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid id for id: abc", decodeError(t, w).Error)
}

func TestParseQueryBool(t *testing.T) {
	tests := []struct {
		query   string
		def     bool
		want    bool
		wantErr bool
	}{
		{query: "", def: true, want: true},
		{query: "?effective=true", want: true},
		{query: "?effective=0", def: true, want: false},
		{query: "?effective=maybe", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/users/x/permissions"+tt.query, nil)
			got, err := ParseQueryBool(req, "effective", tt.def)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateAll(t *testing.T) {
	w := httptest.NewRecorder()
	ok := ValidateAll(w, Required("Ada", "name"), Required("", "email"), Required("", "guard"))

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, CodeValidation, body.Code)
	assert.Equal(t, "email is required", body.Error)

	w = httptest.NewRecorder()
	assert.True(t, ValidateAll(w, Required("Ada", "name"), Required("ada@example.com", "email")))
	assert.Equal(t, http.StatusOK, w.Code)
}

func BenchmarkParseJSON(b *testing.B) {
	body := `{"role_id":"` + uuid.NewString() + `","permission_ids":["` + uuid.NewString() + `"]}`
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		var dest assignRequest
		_ = ParseJSON(req, &dest)
	}
}
