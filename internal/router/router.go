package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/edumanage/edumanage-api/internal/handler"
	"github.com/edumanage/edumanage-api/internal/middleware"
	"github.com/edumanage/edumanage-api/internal/models"
	"github.com/edumanage/edumanage-api/internal/repository"
	"github.com/edumanage/edumanage-api/internal/service"
	"github.com/edumanage/edumanage-api/pkg/config"
	"github.com/edumanage/edumanage-api/pkg/logger"
	corsmiddleware "github.com/edumanage/edumanage-api/pkg/middleware/cors"
	reqidmiddleware "github.com/edumanage/edumanage-api/pkg/middleware/requestid"
)

// Handlers groups the HTTP handlers mounted by Setup.
type Handlers struct {
	Auth           *handler.AuthHandler
	Users          *handler.UserHandler
	Configurations *handler.ConfigurationHandler
	Courses        *handler.CourseHandler
	Enrollments    *handler.EnrollmentHandler
	Assignments    *handler.AssignmentHandler
	Submissions    *handler.SubmissionHandler
	Grades         *handler.GradeHandler
	Attendance     *handler.AttendanceHandler
	Messages       *handler.MessageHandler
	Notifications  *handler.NotificationHandler
	Uploads        *handler.UploadHandler
	Reports        *handler.ReportHandler
	Dashboard      *handler.DashboardHandler
	Ops            *handler.MetricsHandler
}

// Deps carries the cross-cutting collaborators used by the middleware chain.
type Deps struct {
	Config    *config.Config
	Logger    *zap.Logger
	Auth      *service.AuthService
	Metrics   *service.MetricsService
	AuditRepo *repository.AuditRepository
}

// Setup builds the gin engine and mounts the full route table under the
// configured API prefix.
func Setup(h Handlers, deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(deps.Config.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(deps.Metrics))

	admin := middleware.RequireRoles(models.RoleAdmin)
	staff := middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin)
	student := middleware.RequireRoles(models.RoleStudent)

	api := r.Group(deps.Config.APIPrefix)

	// No authentication: registration, login and the public projections.
	api.POST("/auth/register", h.Auth.Register)
	api.POST("/auth/login", h.Auth.Login)
	api.POST("/auth/refresh", h.Auth.Refresh)
	api.GET("/configurations/public", h.Configurations.Public)
	// Signed download: the token itself carries the authorization.
	api.GET("/uploads/download", h.Uploads.DownloadSigned)

	authed := api.Group("")
	authed.Use(middleware.JWT(deps.Auth))
	{
		authed.POST("/auth/logout", h.Auth.Logout)
		authed.GET("/auth/me", h.Auth.Me)
		authed.POST("/auth/change-password", h.Auth.ChangePassword)

		users := authed.Group("/users")
		{
			users.GET("", admin, h.Users.List)
			users.GET("/:id", middleware.RBAC(string(models.RoleAdmin), "SELF"), h.Users.Get)
			users.POST("", admin, h.Users.Create)
			users.PUT("/:id", admin, h.Users.Update)
			users.DELETE("/:id", admin, h.Users.Delete)
		}

		configurations := authed.Group("/configurations", admin)
		{
			configurations.GET("", h.Configurations.List)
			configurations.GET("/categories", h.Configurations.Categories)
			configurations.GET("/export", middleware.Audit(deps.AuditRepo, "configuration.export", "configurations"), h.Configurations.Export)
			configurations.GET("/:key", h.Configurations.Get)
			configurations.POST("", h.Configurations.Create)
			configurations.PUT("/:key", h.Configurations.Update)
			configurations.DELETE("/:key", h.Configurations.Delete)
			configurations.POST("/bulk-update", h.Configurations.BulkUpdate)
			configurations.POST("/reset/:key", h.Configurations.Reset)
		}

		courses := authed.Group("/courses")
		{
			courses.GET("", h.Courses.List)
			courses.GET("/:id", h.Courses.Get)
			courses.POST("", staff, h.Courses.Create)
			courses.PUT("/:id", staff, h.Courses.Update)
			courses.POST("/:id/approve", admin, h.Courses.Approve)
			courses.DELETE("/:id", admin, h.Courses.Delete)

			courses.POST("/:id/enroll", student, h.Enrollments.Enroll)
			courses.GET("/:id/enrollments", staff, h.Enrollments.ListByCourse)

			courses.GET("/:id/assignments", h.Assignments.ListByCourse)
			courses.POST("/:id/assignments", staff, h.Assignments.Create)

			courses.PUT("/:id/grades", staff, h.Grades.Upsert)
			courses.GET("/:id/grades", staff, h.Grades.Roster)
			courses.GET("/:id/grades/me", student, h.Grades.GetOwn)
			courses.GET("/:id/grades/summary", staff, h.Grades.Summary)

			courses.PUT("/:id/attendance", staff, h.Attendance.Upsert)
			courses.GET("/:id/attendance", staff, h.Attendance.ListByCourse)
			courses.DELETE("/:id/attendance/:date", staff, h.Attendance.Delete)
			courses.GET("/:id/attendance/students/:studentId", h.Attendance.StudentSummary)

			courses.GET("/:id/uploads", h.Uploads.ListByCourse)
		}

		enrollments := authed.Group("/enrollments")
		{
			enrollments.GET("", student, h.Enrollments.ListOwn)
			enrollments.POST("/:id/drop", h.Enrollments.Drop)
			enrollments.POST("/:id/complete", staff, h.Enrollments.Complete)
		}

		assignments := authed.Group("/assignments")
		{
			assignments.GET("/:id", h.Assignments.Get)
			assignments.PUT("/:id", staff, h.Assignments.Update)
			assignments.DELETE("/:id", staff, h.Assignments.Delete)
			assignments.POST("/:id/submissions", student, h.Submissions.Submit)
			assignments.GET("/:id/submissions", staff, h.Submissions.ListByAssignment)
			assignments.GET("/:id/submissions/me", student, h.Submissions.GetOwn)
		}

		authed.POST("/submissions/:id/grade", staff, h.Submissions.Grade)
		authed.GET("/grades", student, h.Grades.ListOwn)

		messages := authed.Group("/messages")
		{
			messages.POST("", h.Messages.Send)
			messages.GET("", h.Messages.List)
			messages.GET("/unread-count", h.Messages.UnreadCount)
			messages.GET("/:id", h.Messages.Get)
			messages.DELETE("/:id", h.Messages.Delete)
		}

		notifications := authed.Group("/notifications")
		{
			notifications.GET("", h.Notifications.List)
			notifications.POST("/read-all", h.Notifications.MarkAllRead)
			notifications.POST("/:id/read", h.Notifications.MarkRead)
		}

		uploads := authed.Group("/uploads")
		{
			uploads.POST("", h.Uploads.Upload)
			uploads.GET("", h.Uploads.ListOwn)
			uploads.GET("/:id", h.Uploads.Get)
			uploads.GET("/:id/download", h.Uploads.Download)
			uploads.GET("/:id/link", h.Uploads.Link)
			uploads.DELETE("/:id", h.Uploads.Delete)
		}

		reports := authed.Group("/reports", staff)
		{
			reports.GET("/courses/:id/grades", middleware.Audit(deps.AuditRepo, "report.grades", "reports"), h.Reports.CourseGrades)
			reports.GET("/courses/:id/attendance", middleware.Audit(deps.AuditRepo, "report.attendance", "reports"), h.Reports.CourseAttendance)
			reports.GET("/courses/:id/satisfaction", h.Reports.Satisfaction)
		}

		authed.GET("/dashboard", admin, h.Dashboard.Summary)
	}

	r.GET("/health", h.Ops.Health)
	r.GET("/ready", h.Ops.Ready)
	r.GET("/metrics", h.Ops.Prometheus)
	if deps.Config.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
