package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var (
	// API 请求计数器
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	// API 请求响应时间
	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 记录创建数
	recordsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_created_total",
			Help: "Total number of records created",
		},
		[]string{"template"},
	)

	// 状态流转结果
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "record_transitions_total",
			Help: "Total number of record transition attempts",
		},
		[]string{"result"}, // success, invalid, denied, locked, conflict, validation, error
	)

	// 编号分配
	numberingAllocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "numbering_allocations_total",
			Help: "Total number of record code allocations",
		},
		[]string{"backend", "result"},
	)

	// SLA 事件
	slaEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "record_sla_events_total",
			Help: "Total number of SLA alerts and breaches",
		},
		[]string{"kind"}, // alert, breach
	)

	// 模板操作
	templateOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "template_operations_total",
			Help: "Total number of template operations",
		},
		[]string{"operation"},
	)

	// 数据库连接数
	databaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections",
		},
	)

	databaseConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	databaseConnectionsMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_max",
			Help: "Maximum number of database connections",
		},
	)

	// 记录状态分布
	recordsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "records_by_state",
			Help: "Number of active records by template and state",
		},
		[]string{"template", "state"},
	)
)

var (
	once sync.Once
)

func init() {
	// 注册指标
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(recordsCreatedTotal)
	prometheus.MustRegister(transitionsTotal)
	prometheus.MustRegister(numberingAllocationsTotal)
	prometheus.MustRegister(slaEventsTotal)
	prometheus.MustRegister(templateOperationsTotal)
	prometheus.MustRegister(databaseConnectionsActive)
	prometheus.MustRegister(databaseConnectionsIdle)
	prometheus.MustRegister(databaseConnectionsMax)
	prometheus.MustRegister(recordsByState)

	// 注册 Go 运行时指标（只注册一次）
	once.Do(func() {
		_ = prometheus.Register(prometheus.NewGoCollector())
		_ = prometheus.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// Handler 返回 Prometheus 指标处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest 记录 API 请求
func RecordAPIRequest(method, path string, status int, duration float64) {
	apiRequestsTotal.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordCreated 记录创建
func RecordCreated(templateCode string) {
	recordsCreatedTotal.WithLabelValues(templateCode).Inc()
}

// RecordTransition 记录状态流转结果
func RecordTransition(result string) {
	transitionsTotal.WithLabelValues(result).Inc()
}

// RecordAllocation 记录编号分配
func RecordAllocation(backend string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	numberingAllocationsTotal.WithLabelValues(backend, result).Inc()
}

// RecordSLAEvent 记录 SLA 预警或超期
func RecordSLAEvent(kind string) {
	slaEventsTotal.WithLabelValues(kind).Inc()
}

// RecordTemplateOperation 记录模板操作
func RecordTemplateOperation(operation string) {
	templateOperationsTotal.WithLabelValues(operation).Inc()
}

// UpdateDatabaseConnections 更新数据库连接数指标
func UpdateDatabaseConnections(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	stats := sqlDB.Stats()
	databaseConnectionsActive.Set(float64(stats.OpenConnections - stats.Idle))
	databaseConnectionsIdle.Set(float64(stats.Idle))
	databaseConnectionsMax.Set(float64(stats.MaxOpenConnections))

	return nil
}

// UpdateRecordsByState 更新记录状态分布指标
func UpdateRecordsByState(templateID, state string, count float64) {
	recordsByState.WithLabelValues(templateID, state).Set(count)
}
