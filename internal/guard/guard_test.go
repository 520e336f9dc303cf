package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func request(target string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.RemoteAddr = "198.51.100.7:51234"
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestTokenOK(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		supplied string
		want     bool
	}{
		{"auth disabled, no token", "", "", true},
		{"auth disabled, token supplied", "", "anything", false},
		{"match", "s3cret", "s3cret", true},
		{"mismatch", "s3cret", "wrong", false},
		{"missing", "s3cret", "", false},
		{"case sensitive", "s3cret", "S3CRET", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.secret, nil).TokenOK(tt.supplied))
		})
	}
}

func TestRequestToken_Precedence(t *testing.T) {
	r := request("/sms/latest?token=fromquery", map[string]string{TokenHeader: "fromheader"})
	assert.Equal(t, "fromquery", RequestToken(r))

	r = request("/sms/latest", map[string]string{TokenHeader: "fromheader"})
	assert.Equal(t, "fromheader", RequestToken(r))

	r = request("/sms/latest?token=", map[string]string{TokenHeader: "fromheader"})
	assert.Equal(t, "fromheader", RequestToken(r))

	assert.Equal(t, "", RequestToken(request("/sms/latest", nil)))
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "198.51.100.7", ClientIP(request("/", nil)))

	r := request("/", map[string]string{"X-Forwarded-For": " 203.0.113.9 , 10.0.0.1, 10.0.0.2"})
	assert.Equal(t, "203.0.113.9", ClientIP(r))

	r = request("/", map[string]string{"X-Forwarded-For": " , 10.0.0.1"})
	assert.Equal(t, "198.51.100.7", ClientIP(r), "blank leftmost entry falls back to peer")

	r = request("/", nil)
	r.RemoteAddr = "192.0.2.1"
	assert.Equal(t, "192.0.2.1", ClientIP(r))

	r = request("/", nil)
	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", ClientIP(r))
}

func TestAuthorize(t *testing.T) {
	g := New("s3cret", []string{"203.0.113.9", " ", "192.0.2.44 "})

	tests := []struct {
		name    string
		target  string
		headers map[string]string
		wantErr bool
	}{
		{"token and allowed ip", "/?token=s3cret", map[string]string{"X-Forwarded-For": "203.0.113.9"}, false},
		{"header token and allowed ip", "/", map[string]string{TokenHeader: "s3cret", "X-Forwarded-For": "192.0.2.44"}, false},
		{"correct token, ip not allowed", "/?token=s3cret", nil, true},
		{"allowed ip, wrong token", "/?token=nope", map[string]string{"X-Forwarded-For": "203.0.113.9"}, true},
		{"allowed ip, no token", "/", map[string]string{"X-Forwarded-For": "203.0.113.9"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Authorize(request(tt.target, tt.headers))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrForbidden)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAuthorize_EmptyAllowlistAllowsAll(t *testing.T) {
	g := New("", []string{"", "  "})
	assert.NoError(t, g.Authorize(request("/", map[string]string{"X-Forwarded-For": "8.8.8.8"})))
	assert.ErrorIs(t, g.Authorize(request("/?token=x", nil)), ErrForbidden)
}
