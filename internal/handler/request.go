package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"contractsvc/internal/service/contract"
	"contractsvc/pkg/rbac"
)

// actorFrom 读取认证中间件写入的身份
func actorFrom(c *gin.Context) (contract.Actor, bool) {
	userID, ok := c.Get("user_id")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return contract.Actor{}, false
	}
	id, ok := userID.(int64)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return contract.Actor{}, false
	}
	role, _ := c.Get("role")
	r, _ := role.(rbac.Role)
	return contract.Actor{ID: id, Role: r}, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

const dateLayout = "2006-01-02"

// parseDate accepts YYYY-MM-DD or RFC3339; nil and "" mean absent.
func parseDate(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(dateLayout, *raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
