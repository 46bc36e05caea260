package auth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mautops/record-gin/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const issuer = "https://sso.example.com/realms/quality"

func init() {
	gin.SetMode(gin.TestMode)
}

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func publicPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func sign(t *testing.T, key *rsa.PrivateKey, kid string, mutate func(*auth.KeycloakClaims)) string {
	t.Helper()
	claims := &auth.KeycloakClaims{
		PreferredUsername: "alice",
		OrganizationID:    "org-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	claims.RealmAccess.Roles = []string{"auditor", "admin"}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

// TestValidateToken_PublicKey 测试使用固定公钥验证
func TestValidateToken_PublicKey(t *testing.T) {
	key := newKey(t)
	v, err := auth.NewKeycloakTokenValidator(issuer, "", publicPEM(t, key))
	require.NoError(t, err)
	assert.Equal(t, issuer, v.Issuer())

	claims, err := v.ValidateToken(sign(t, key, "", nil))
	require.NoError(t, err)
	actor := claims.Actor()
	assert.Equal(t, "user-1", actor.ID)
	assert.Equal(t, "org-1", actor.OrganizationID)
	assert.True(t, actor.IsAdmin())
}

// TestValidateToken_Rejected 测试过期、错误签发者、错误签名与缺少主体
func TestValidateToken_Rejected(t *testing.T) {
	key := newKey(t)
	v, err := auth.NewKeycloakTokenValidator(issuer, "", publicPEM(t, key))
	require.NoError(t, err)

	tests := map[string]string{
		"expired": sign(t, key, "", func(c *auth.KeycloakClaims) {
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		}),
		"no expiry":     sign(t, key, "", func(c *auth.KeycloakClaims) { c.ExpiresAt = nil }),
		"wrong issuer":  sign(t, key, "", func(c *auth.KeycloakClaims) { c.Issuer = "https://evil.example.com" }),
		"other key":     sign(t, newKey(t), "", nil),
		"no subject":    sign(t, key, "", func(c *auth.KeycloakClaims) { c.Subject = "" }),
		"not a token":   "abc.def.ghi",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.ValidateToken(token)
			assert.Error(t, err)
		})
	}

	// HS256 不被接受
	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "user-1", Issuer: issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := hs.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.ValidateToken(s)
	assert.Error(t, err)
}

// TestNewKeycloakTokenValidator_BadPEM 测试非法公钥
func TestNewKeycloakTokenValidator_BadPEM(t *testing.T) {
	_, err := auth.NewKeycloakTokenValidator(issuer, "", "not a pem")
	assert.Error(t, err)
}

// TestValidateToken_JWKS 测试从 JWKS 获取公钥并缓存
func TestValidateToken_JWKS(t *testing.T) {
	key := newKey(t)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{
				{"kid": "ec", "kty": "EC"},
				{
					"kid": "k1",
					"kty": "RSA",
					"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
				},
			},
		})
	}))
	defer srv.Close()

	v, err := auth.NewKeycloakTokenValidator(issuer, srv.URL, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := v.ValidateToken(sign(t, key, "k1", nil))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// 未知 kid 与缺少 kid
	_, err = v.ValidateToken(sign(t, key, "k2", nil))
	assert.Error(t, err)
	_, err = v.ValidateToken(sign(t, key, "", nil))
	assert.Error(t, err)
}

func serve(mw gin.HandlerFunc, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	var seen map[string]interface{}
	r := gin.New()
	r.GET("/whoami", mw, func(c *gin.Context) {
		actor, ok := auth.ActorFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		seen = map[string]interface{}{"id": actor.ID, "org": actor.OrganizationID, "roles": actor.Roles, "user_id": c.GetString("user_id")}
		c.Status(http.StatusOK)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, seen
}

// TestHeaderAuthMiddleware 测试网关身份头
func TestHeaderAuthMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(auth.HeaderUserID, "u1")
	req.Header.Set(auth.HeaderOrganizationID, "org-1")
	req.Header.Set(auth.HeaderUserRoles, " auditor, ,lead_auditor ")

	w, seen := serve(auth.HeaderAuthMiddleware(), req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", seen["id"])
	assert.Equal(t, "u1", seen["user_id"])
	assert.Equal(t, "org-1", seen["org"])
	assert.Equal(t, []string{"auditor", "lead_auditor"}, seen["roles"])

	w, _ = serve(auth.HeaderAuthMiddleware(), httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), auth.HeaderUserID)
}

// TestKeycloakAuthMiddleware 测试 Bearer Token 认证
func TestKeycloakAuthMiddleware(t *testing.T) {
	key := newKey(t)
	v, err := auth.NewKeycloakTokenValidator(issuer, "", publicPEM(t, key))
	require.NoError(t, err)
	mw := auth.KeycloakAuthMiddleware(v)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, key, "", nil))
	w, seen := serve(mw, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", seen["id"])

	w, _ = serve(mw, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, newKey(t), "", nil))
	w, _ = serve(mw, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid token")
}
