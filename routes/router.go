package routes

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"

	"github.com/cppla/minicomment/config"
	"github.com/cppla/minicomment/controllers"
	"github.com/cppla/minicomment/utils"
)

// SetupRouter wires the comment endpoints behind logging, recovery and CORS.
func SetupRouter(cfg config.AppConfig, comments *controllers.CommentController) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Access log goes to its own rolling file; fall back to the app logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err != nil {
		gl = utils.Logger
	}
	r.Use(ginzap.Ginzap(gl, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(gl, false))

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "X-Requested-With"},
		ExposeHeaders: []string{"Content-Length", "X-UUID"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	r.GET("/comments", comments.GetComments)
	r.GET("/captcha", comments.Captcha)
	r.POST("/comment", comments.CreateComment)
	r.POST("/star", comments.Star)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, 404, nil, "route not found")
	})

	return r
}
