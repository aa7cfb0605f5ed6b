package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/docsync/internal/domain/identity"
	"github.com/erp/docsync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Envelope is an API response with the payload left undecoded
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *dto.ErrorInfo  `json:"error"`
	Meta    *dto.Meta       `json:"meta"`
}

// DecodeEnvelope parses body as an API response
func DecodeEnvelope(t *testing.T, body []byte) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(body, &env), "response is not an API envelope: %s", body)
	return env
}

// DataAs decodes the payload into v
func (e Envelope) DataAs(t *testing.T, v any) {
	t.Helper()
	require.NotEmpty(t, e.Data, "response has no data")
	require.NoError(t, json.Unmarshal(e.Data, v))
}

// DataMap returns the payload as a generic object
func (e Envelope) DataMap(t *testing.T) map[string]any {
	t.Helper()
	var m map[string]any
	e.DataAs(t, &m)
	return m
}

// Document returns the payload as a single document
func (e Envelope) Document(t *testing.T) dto.DocumentResponse {
	t.Helper()
	var doc dto.DocumentResponse
	e.DataAs(t, &doc)
	return doc
}

// Documents returns the payload as a page of documents
func (e Envelope) Documents(t *testing.T) []dto.DocumentResponse {
	t.Helper()
	var docs []dto.DocumentResponse
	e.DataAs(t, &docs)
	return docs
}

// AssertSuccess asserts body is a success envelope and returns it
func AssertSuccess(t *testing.T, body []byte) Envelope {
	t.Helper()
	env := DecodeEnvelope(t, body)
	assert.True(t, env.Success, "expected success: %s", body)
	assert.Nil(t, env.Error)
	return env
}

// AssertErrorCode asserts body is a failure envelope carrying code and
// returns the error
func AssertErrorCode(t *testing.T, body []byte, code string) *dto.ErrorInfo {
	t.Helper()
	env := DecodeEnvelope(t, body)
	assert.False(t, env.Success, "expected failure: %s", body)
	require.NotNil(t, env.Error, "expected error object: %s", body)
	assert.Equal(t, code, env.Error.Code)
	return env.Error
}

// NewJSONRequest builds a request with body encoded as JSON. A nil body
// sends no payload.
func NewJSONRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err, "Failed to marshal request body")
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// HTTPTestCase is one request against a single handler
type HTTPTestCase struct {
	Name   string
	Method string
	Path   string
	Body   any
	// Identity signs the request in; nil leaves it anonymous
	Identity       *identity.Identity
	ExpectedStatus int
	// ExpectedError is the error code of a failure envelope
	ExpectedError string
	Validate      func(t *testing.T, env Envelope)
}

// RunHTTPTestCases runs each case as a subtest
func RunHTTPTestCases(t *testing.T, handler gin.HandlerFunc, cases []HTTPTestCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			RunHTTPTestCase(t, handler, tc)
		})
	}
}

// RunHTTPTestCase sends one request through handler and checks the
// response envelope
func RunHTTPTestCase(t *testing.T, handler gin.HandlerFunc, tc HTTPTestCase) {
	t.Helper()

	method := tc.Method
	if method == "" {
		method = http.MethodGet
	}
	path := tc.Path
	if path == "" {
		path = "/"
	}

	ctx := NewTestContext(t)
	ctx.Context.Request = NewJSONRequest(t, method, path, tc.Body)
	if tc.Identity != nil {
		ctx.SetIdentity(*tc.Identity)
	}

	handler(ctx.Context)

	if tc.ExpectedStatus != 0 {
		assert.Equal(t, tc.ExpectedStatus, ctx.ResponseCode(), "Unexpected status code: %s", ctx.ResponseBody())
	}
	env := DecodeEnvelope(t, ctx.ResponseBody())
	if tc.ExpectedError != "" {
		AssertErrorCode(t, ctx.ResponseBody(), tc.ExpectedError)
	}
	if tc.Validate != nil {
		tc.Validate(t, env)
	}
}
