package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal 按方法与状态码统计 HTTP 请求数。
	HTTPRequestsTotal *prometheus.CounterVec

	// LoginFailuresTotal 登录失败次数（凭证无效）。
	LoginFailuresTotal prometheus.Counter

	// RegisterConflictsTotal 注册时邮箱冲突次数。
	RegisterConflictsTotal prometheus.Counter

	// UnauthorizedTotal 网关拦截的未认证请求数。
	UnauthorizedTotal prometheus.Counter

	// ForbiddenTotal 所有权校验拒绝次数。
	ForbiddenTotal prometheus.Counter

	// TasksCreatedTotal 已创建任务数。
	TasksCreatedTotal prometheus.Counter

	// TasksUpdatedTotal 已更新任务数。
	TasksUpdatedTotal prometheus.Counter

	// TasksDeletedTotal 已删除任务数。
	TasksDeletedTotal prometheus.Counter
)

var initOnce sync.Once

// InitMetrics 注册所有指标。重复调用是安全的。
func InitMetrics() {
	initOnce.Do(func() {
		HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasktracker_http_requests_total",
			Help: "Total HTTP requests by method and status.",
		}, []string{"method", "status"})

		LoginFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasktracker_login_failures_total",
			Help: "Total failed login attempts.",
		})

		RegisterConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasktracker_register_conflicts_total",
			Help: "Total registrations rejected for duplicate email.",
		})

		UnauthorizedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasktracker_unauthorized_total",
			Help: "Total requests rejected by the session gatekeeper.",
		})

		ForbiddenTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasktracker_forbidden_total",
			Help: "Total task operations rejected by the ownership check.",
		})

		TasksCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasktracker_tasks_created_total",
			Help: "Total tasks created.",
		})

		TasksUpdatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasktracker_tasks_updated_total",
			Help: "Total tasks updated.",
		})

		TasksDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasktracker_tasks_deleted_total",
			Help: "Total tasks deleted.",
		})

		prometheus.MustRegister(
			HTTPRequestsTotal,
			LoginFailuresTotal,
			RegisterConflictsTotal,
			UnauthorizedTotal,
			ForbiddenTotal,
			TasksCreatedTotal,
			TasksUpdatedTotal,
			TasksDeletedTotal,
		)
	})
}
