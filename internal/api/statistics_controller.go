package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/record-gin/internal/service"
)

// StatisticsController 统计控制器
type StatisticsController struct {
	statisticsService service.StatisticsService
}

// NewStatisticsController 创建统计控制器
func NewStatisticsController(statisticsService service.StatisticsService) *StatisticsController {
	return &StatisticsController{statisticsService: statisticsService}
}

// Records 记录统计,days 限定按日统计的范围（默认 30 天）
func (c *StatisticsController) Records(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	days, ok := queryInt(ctx, "days", 30)
	if !ok {
		return
	}

	byTemplate, err := c.statisticsService.ByTemplate(ctx.Request.Context(), actor)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	since := time.Time{}
	if days > 0 {
		since = time.Now().AddDate(0, 0, -days)
	}
	byDay, err := c.statisticsService.ByDay(ctx.Request.Context(), actor, since)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	sla, err := c.statisticsService.SLA(ctx.Request.Context(), actor)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, gin.H{
		"by_template": byTemplate,
		"by_day":      byDay,
		"sla":         sla,
	})
}
