package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"

	"nfcauth/config"
	"nfcauth/controllers"
	"nfcauth/database"
	"nfcauth/middleware"
	"nfcauth/services"
	"nfcauth/utils"
)

const invoiceQueueSize = 256

// application собранные сервисы и маршруты
type application struct {
	router   *mux.Router
	listener *services.InvoiceListener
}

func newApplication(cfg *config.Config, store database.Store, payments services.PaymentService, notifier services.Notifier) *application {
	taps := services.NewTapService(store, payments, services.TapConfig{
		WithdrawResponse: cfg.Scan.WithdrawResponse,
	})
	refunds := services.NewRefundService(store, payments)
	if notifier != nil {
		taps.SetNotifier(notifier)
		refunds.SetNotifier(notifier)
	}
	handshake := services.NewHandshakeService(store)
	listener := services.NewInvoiceListener(refunds, invoiceQueueSize)

	// Создаем роутер
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)
	router.HandleFunc("/metrics", controllers.MetricsHandler).Methods(http.MethodGet)

	// Публичные маршруты карт и кошельков
	public := router.PathPrefix(services.RoutePrefix).Subrouter()
	lnurlController := controllers.NewLnurlController(taps, handshake, refunds, listener, cfg.Server.BaseURL)
	lnurlController.SetTrustedProxies(cfg.Server.TrustedProxies)
	lnurlController.Register(public, utils.NewRateLimiter(cfg.Scan.RateLimit, time.Minute))

	// Администрирование карт
	adminPrefix := services.RoutePrefix + "/api/v1/admin"
	router.PathPrefix(adminPrefix).Handler(newAdminEngine(cfg, store, adminPrefix))

	return &application{router: router, listener: listener}
}

func newAdminEngine(cfg *config.Config, store database.Store, prefix string) *gin.Engine {
	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		utils.LogError("Неверный список доверенных прокси: %v", err)
	}
	engine.Use(middleware.Recovery(), middleware.Logger(), middleware.CORSMiddleware())
	engine.Use(middleware.RateLimit(utils.NewRateLimiter(100, time.Minute)))

	authController := controllers.NewAuthController(cfg)
	cardController := controllers.NewCardController(services.NewCardService(store))

	admin := engine.Group(prefix)
	admin.POST("/token", authController.SignIn)

	protected := admin.Group("")
	protected.Use(middleware.JWTAuth([]byte(authController.GetJWTKey())))
	cardController.Register(protected)

	return engine
}

func main() {
	// Инициализируем конфигурацию
	cfg, err := config.NewConfig()
	if err != nil {
		utils.Log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	utils.InitLogger(cfg.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	// Инициализируем подключение к базе данных
	db, err := database.Connect(cfg)
	if err != nil {
		utils.Log.Fatalf("Ошибка подключения к базе данных: %v", err)
	}
	defer db.Close()

	// Уведомления по email только при настроенном SMTP
	var notifier services.Notifier
	if cfg.SMTP.Host != "" {
		notifier = services.NewEmailService(cfg)
	}

	app := newApplication(cfg, db.Store(), services.NewLNbitsClient(cfg), notifier)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Запускаем обработку оплаченных возвратов
	app.listener.Start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Payments.Timeout + 10*time.Second,
		IdleTimeout:       time.Minute,
	}

	go func() {
		utils.LogInfo("Сервер запущен на порту %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Log.Fatalf("Ошибка запуска сервера: %v", err)
		}
	}()

	<-ctx.Done()
	utils.LogInfo("Остановка сервера")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		utils.LogError("Ошибка остановки сервера: %v", err)
	}
	<-app.listener.Stopped()
}
