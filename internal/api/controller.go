package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mautops/record-gin/internal/auth"
	"github.com/mautops/record-gin/internal/utils"
	"github.com/mautops/record-gin/pkg/types"
)

// actorOf 获取调用者,未认证时写入 401 并返回 false
func actorOf(c *gin.Context) (*types.Actor, bool) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "unauthorized", "no authenticated actor")
		return nil, false
	}
	return actor, true
}

// pathID 读取并校验路径参数中的 ID
func pathID(c *gin.Context, name string) (string, bool) {
	id := c.Param(name)
	if err := utils.ValidateID(name, id); err != nil {
		HandleError(c, err)
		return "", false
	}
	return id, true
}

// queryInt 读取整数查询参数,缺省返回 def
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid "+name, err.Error())
		return 0, false
	}
	return v, true
}

// queryBool 读取可选布尔查询参数
func queryBool(c *gin.Context, name string) (*bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid "+name, err.Error())
		return nil, false
	}
	return &v, true
}
