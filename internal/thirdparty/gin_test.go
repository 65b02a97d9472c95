package thirdparty

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sockwire/websocket"
	"github.com/sockwire/websocket/internal/test/assert"
	"github.com/sockwire/websocket/internal/test/wstest"
	"github.com/sockwire/websocket/wsjson"
)

func TestGin(t *testing.T) {
	t.Parallel()

	s := echoServer(t, nil)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/", func(ginCtx *gin.Context) {
		s.ServeHTTP(ginCtx.Writer, ginCtx.Request)
	})

	hs := httptest.NewServer(r)
	defer hs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wstest.URL(hs), nil)
	assert.Success(t, err)

	err = wsjson.Write(c, "hello")
	assert.Success(t, err)

	var v interface{}
	err = wsjson.Read(c, &v)
	assert.Success(t, err)
	assert.Equal(t, "read msg", "hello", v)

	err = c.CloseWithStatus(websocket.StatusNormalClosure, "")
	assert.Success(t, err)
}
