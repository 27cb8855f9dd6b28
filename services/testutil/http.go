package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
)

func MakeAuthRequest(router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func MakePublicRequest(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	return MakeAuthRequest(router, method, path, nil, "")
}

// DecodeJSON unmarshals a recorder body into T.
func DecodeJSON[T any](w *httptest.ResponseRecorder) (T, error) {
	var out T
	err := json.Unmarshal(w.Body.Bytes(), &out)
	return out, err
}
