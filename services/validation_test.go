package services

import (
	"bytes"
	"mime/multipart"
	"testing"

	"github.com/lac-hong-legacy/academy_api/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=30"`
}

func TestContainsInjection(t *testing.T) {
	v := NewInputValidator()

	for _, payload := range []string{
		"<script>alert(1)</script>",
		"< SCRIPT src=x>",
		"javascript:alert(1)",
		`<img src=x onerror="alert(1)">`,
		"<iframe src=//evil>",
		"data:text/html;base64,PHNjcmlwdD4=",
		"<body ONLOAD = steal()>",
	} {
		assert.True(t, v.ContainsInjection(payload), payload)
	}

	for _, clean := range []string{"hello world", "price: 10$", "onion rings", "user@example.com", "once = twice", "only=1"} {
		assert.False(t, v.ContainsInjection(clean), clean)
	}
}

func TestSanitizeHTML(t *testing.T) {
	v := NewInputValidator()

	assert.Equal(t, "hi", v.SanitizeHTML("<b>hi</b><script>alert(1)</script>"))
}

func TestSanitizeMongoQuery(t *testing.T) {
	v := NewInputValidator()

	clean, removed := v.SanitizeMongoQuery(map[string]interface{}{
		"username": "alice",
		"$where":   "sleep(1000)",
		"profile": map[string]interface{}{
			"age":      map[string]interface{}{"$gt": 18},
			"a.b":      1,
			"nickname": "al",
		},
	})

	assert.Equal(t, map[string]interface{}{
		"username": "alice",
		"profile": map[string]interface{}{
			"age":      map[string]interface{}{},
			"nickname": "al",
		},
	}, clean)
	assert.ElementsMatch(t, []string{"$where", "profile.age.$gt", "profile.a.b"}, removed)
}

func TestInspectPayload(t *testing.T) {
	v := NewInputValidator()

	findings := v.InspectPayload(map[string]interface{}{
		"bio":   "<script>steal()</script>",
		"tags":  []interface{}{"ok", "javascript:void(0)"},
		"$ne":   1,
		"plain": "fine",
	})
	assert.ElementsMatch(t, []string{
		"injection marker in bio",
		"injection marker in tags[1]",
		"operator key $ne",
	}, findings)

	assert.Empty(t, v.InspectPayload(map[string]interface{}{"name": "alice"}))
}

func TestValidateAPIRequest(t *testing.T) {
	v := NewInputValidator()

	var ok signupRequest
	require.NoError(t, v.ValidateAPIRequest(&ok, []byte(`{"email":"a@example.com","username":"alice"}`)))
	assert.Equal(t, "alice", ok.Username)

	err := v.ValidateAPIRequest(&signupRequest{}, []byte(`{"email":"not-an-email","username":"alice"}`))
	var valErr *shared.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "Email", valErr.Field)

	err = v.ValidateAPIRequest(&signupRequest{}, []byte(`{"email":`))
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "body", valErr.Field)
}

func newFileHeader(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	form, err := multipart.NewReader(&body, writer.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["file"][0]
}

func TestValidateFileUpload(t *testing.T) {
	v := NewInputValidator()
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

	require.NoError(t, v.ValidateFileUpload(newFileHeader(t, "avatar.png", png), []string{"image/png"}, 1024))

	err := v.ValidateFileUpload(newFileHeader(t, "avatar.png", []byte("just some text")), []string{"image/png"}, 1024)
	assert.True(t, shared.IsValidationError(err))

	err = v.ValidateFileUpload(newFileHeader(t, "avatar.png", png), []string{"image/png"}, 16)
	assert.True(t, shared.IsValidationError(err))

	err = v.ValidateFileUpload(newFileHeader(t, "..png", png), nil, 1024)
	assert.True(t, shared.IsValidationError(err))

	assert.True(t, shared.IsValidationError(v.ValidateFileUpload(nil, nil, 0)))
}
