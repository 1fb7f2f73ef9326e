package sidechannel

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
)

// TokenHeader carries the per-process internal token on every sidechannel
// request.
const TokenHeader = "X-Orchestra-Token"

// NewToken generates the process-lifetime internal token.
func NewToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("sidechannel: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// TokenAuth rejects requests whose token header does not match. The compare
// is constant-time.
func TokenAuth(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(TokenHeader))
		if len(got) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid internal token"})
			return
		}
		c.Next()
	}
}
