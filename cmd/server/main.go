// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estudai-go/internal/config"
	"estudai-go/internal/handler"
	"estudai-go/internal/middleware"
	"estudai-go/internal/pipeline"
	"estudai-go/internal/repository"
	"estudai-go/internal/service"
	"estudai-go/pkg/database"
	"estudai-go/pkg/es"
	"estudai-go/pkg/kafka"
	"estudai-go/pkg/log"
	"estudai-go/pkg/storage"
	"estudai-go/pkg/token"
	"estudai-go/pkg/webhook"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 缺少数据库或 Webhook 配置时拒绝启动，而不是带病运行
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("配置校验失败: %v", err)
	}

	// 3. 初始化数据库和外部依赖
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	chatRepository := repository.NewChatRepository(database.DB)
	messageRepository := repository.NewMessageRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	webhookClient := webhook.NewClient(cfg.Webhook)
	hub := service.NewHub()

	userService := service.NewUserService(userRepository, jwtManager, cfg.MinIO)
	chatService := service.NewChatService(chatRepository, messageRepository, kafka.ProduceChatEvent)
	reconcileService := service.NewReconcileService(
		chatService,
		webhookClient,
		hub,
		kafka.ProduceChatEvent,
		time.Duration(cfg.Reconcile.PollIntervalSeconds)*time.Second,
		time.Duration(cfg.Reconcile.MaxWaitSeconds)*time.Second,
	)
	searchService := service.NewSearchService(es.ESClient, cfg.Elasticsearch)

	// 6. 初始化消息索引管道 (Indexer)
	indexer := pipeline.NewIndexer(cfg.Elasticsearch)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, indexer)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	userHandler := handler.NewUserHandler(userService)
	authHandler := handler.NewAuthHandler(userService)
	chatHandler := handler.NewChatHandler(chatService, reconcileService)
	searchHandler := handler.NewSearchHandler(searchService)
	wsHandler := handler.NewWsHandler(chatService, reconcileService, userService, hub, jwtManager)

	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", authHandler.RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.PUT("/me", userHandler.UpdateProfile)
				authed.PUT("/password", userHandler.ChangePassword)
				authed.POST("/avatar", userHandler.UploadAvatar)
				authed.POST("/logout", userHandler.Logout)
			}
		}

		// Chat 路由组，需要认证
		chats := apiV1.Group("/chats")
		chats.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			chats.POST("", chatHandler.CreateChat)
			chats.GET("", chatHandler.ListChats)
			chats.GET("/:chatId", chatHandler.GetChat)
			chats.GET("/:chatId/messages", chatHandler.GetMessages)
			chats.POST("/:chatId/messages", chatHandler.SendMessage)
			chats.GET("/:chatId/pending", chatHandler.GetPendingState)
			chats.DELETE("/:chatId/pending", chatHandler.CancelPending)
			chats.PUT("/:chatId/title", chatHandler.UpdateTitle)
			chats.PUT("/:chatId/archive", chatHandler.ArchiveChat)
			chats.DELETE("/:chatId", chatHandler.DeleteChat)
		}

		// Search 路由组
		search := apiV1.Group("/search")
		search.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			search.GET("/messages", searchHandler.SearchMessages)
		}
	}

	// Chat 事件流 (WebSocket)，token 在路径中携带
	r.GET("/ws/chat/:token", wsHandler.Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// Kafka 消费者随进程退出结束，offset 已逐条提交，无需额外处理。
	log.Info("服务已优雅关闭")
}
