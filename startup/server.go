package startup

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/casbin/casbin"
	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"

	"rentals_service/cache"
	"rentals_service/casbinAuthorization"
	"rentals_service/domain"
	"rentals_service/handlers"
	application "rentals_service/service"
	"rentals_service/startup/config"
	"rentals_service/store"
	"rentals_service/store/inmemory"
)

type Server struct {
	config *config.Config
}

var Logger = logrus.New()

const (
	LogFilePath     = "/app/logs/rentals.log"
	defaultAsaasURL = "https://sandbox.asaas.com/api/v3"
)

type CustomFormatter struct{}

func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	msg := fmt.Sprintf("[%s] [%s] %s\n",
		entry.Time.Format("2006-01-02T15:04:05Z07:00"),
		entry.Level,
		entry.Message,
	)

	return []byte(msg), nil
}

func initLogger() {
	writer, err := rotatelogs.New(
		LogFilePath+"_%Y%m%d%H%M",
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		Logger.Warnf("Failed to create rotatelogs hook, logging to stdout: %v", err)
		Logger.SetOutput(os.Stdout)
	} else {
		Logger.SetOutput(writer)
	}

	Logger.SetFormatter(&CustomFormatter{})
}

func NewServer(config *config.Config) *Server {
	return &Server{
		config: config,
	}
}

func (server *Server) Start() {

	initLogger()

	if server.config.JWTSecret == "" {
		log.Fatal("SECRET_KEY must be set")
	}

	ctx := context.Background()

	exp, err := newExporter(server.config.JaegerAddress)
	if err != nil {
		log.Fatalf("Failed to Initialize Exporter: %v", err)
	}

	tp := newTraceProvider(exp)
	defer func() { _ = tp.Shutdown(ctx) }()
	otel.SetTracerProvider(tp)
	tracer := tp.Tracer("rentals_service")
	otel.SetTextMapPropagator(propagation.TraceContext{})

	// Document store: Mongo when configured, in-memory otherwise (local runs
	// and tests). Without Mongo there is no change stream, so reservation
	// creation drives validation directly.
	var (
		reservationStore  domain.ReservationStore
		orderStore        domain.OrderStore
		mongoClient       *mongo.Client
		watcherCollection *mongo.Collection
	)

	if server.config.RentalsDBHost != "" {
		mongoClient = server.initMongoClient()
		defer func(mongoClient *mongo.Client, ctx context.Context) {
			err := mongoClient.Disconnect(ctx)
			if err != nil {
				Logger.Warnf("Error disconnecting mongo client: %v", err)
			}
		}(mongoClient, ctx)

		mongoReservations := store.NewReservationMongoDBStore(mongoClient, tracer)
		reservationStore = mongoReservations
		orderStore = store.NewOrderMongoDBStore(mongoClient, tracer)
		watcherCollection = mongoReservations.(*store.ReservationMongoDBStore).Collection()
	} else {
		Logger.Warn("RENTALS_DB_HOST not set, using in-memory stores")
		reservationStore = inmemory.NewReservationStore()
		orderStore = inmemory.NewOrderStore()
	}

	var eventCache *cache.EventCache
	if server.config.EventCacheHost != "" {
		cacheLogger := log.New(os.Stdout, "[event-cache] ", log.LstdFlags)
		eventCache = cache.New(fmt.Sprintf("%s:%s", server.config.EventCacheHost, server.config.EventCachePort), cacheLogger)
		eventCache.Ping()
	}

	mailer := server.initMailer()
	validationService := application.NewValidationService(reservationStore, orderStore, mailer, tracer, Logger)

	asaasURL := server.config.AsaasURL
	if asaasURL == "" {
		asaasURL = defaultAsaasURL
	}
	asaasClient := application.NewAsaasClient(asaasURL, server.config.AsaasAPIKey, Logger)
	paymentService := application.NewPaymentService(orderStore, reservationStore, asaasClient, eventCache, tracer, Logger)

	watchCtx, stopWatcher := context.WithCancel(ctx)
	defer stopWatcher()
	if watcherCollection != nil {
		watcher := application.NewReservationWatcher(watcherCollection, validationService, Logger)
		go func() {
			if err := watcher.Run(watchCtx); err != nil {
				Logger.Errorf("reservation watcher stopped: %v", err)
			}
		}()
	}

	jwtSecret := []byte(server.config.JWTSecret)
	reservationHandler := handlers.NewReservationHandler(validationService, reservationStore, jwtSecret, watcherCollection == nil, tracer, Logger)
	webhookHandler := handlers.NewWebhookHandler(paymentService, tracer, Logger)
	paymentHandler := handlers.NewPaymentHandler(paymentService, jwtSecret, tracer, Logger)

	server.start(jwtSecret, reservationHandler, webhookHandler, paymentHandler)
}

func (server *Server) initMongoClient() *mongo.Client {
	client, err := store.GetClient(server.config.RentalsDBHost, server.config.RentalsDBPort)
	if err != nil {
		log.Fatal(err)
	}
	return client
}

func (server *Server) initMailer() *application.Mailer {
	if server.config.SMTPHost == "" || server.config.OpsAlertMail == "" {
		return nil
	}
	port, err := strconv.Atoi(server.config.SMTPPort)
	if err != nil {
		port = 587
	}
	return application.NewMailer(
		server.config.SMTPHost,
		port,
		server.config.SMTPAuthMail,
		server.config.SMTPAuthPassword,
		server.config.SMTPAuthMail,
		server.config.OpsAlertMail,
	)
}

func (server *Server) start(jwtSecret []byte, reservationHandler *handlers.ReservationHandler, webhookHandler *handlers.WebhookHandler, paymentHandler *handlers.PaymentHandler) {
	enforcer, err := casbin.NewEnforcerSafe("./rbac_model.conf", "./policy.csv")
	if err != nil {
		log.Fatal(err)
	}
	Logger.Info("rentals service successful init of enforcer")

	router := mux.NewRouter()
	router.Use(handlers.ExtractTraceInfoMiddleware)
	router.Use(handlers.MiddlewareContentTypeSet)
	reservationHandler.Init(router)
	webhookHandler.Init(router)
	paymentHandler.Init(router)

	cors := gorillaHandlers.CORS(
		gorillaHandlers.AllowedOrigins([]string{"*"}),
		gorillaHandlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		gorillaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", server.config.Port),
		Handler: cors(casbinAuthorization.CasbinMiddleware(enforcer, jwtSecret)(router)),
	}

	wait := time.Second * 15
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Println(err)
		}
	}()

	c := make(chan os.Signal, 1)

	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	<-c

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Error Shutting Down Server %s", err)
	}
	log.Println("Server Gracefully Stopped")
}

func newExporter(address string) (*jaeger.Exporter, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(address)))
	if err != nil {
		return nil, err
	}
	return exp, nil
}

func newTraceProvider(exp sdktrace.SpanExporter) *sdktrace.TracerProvider {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("rentals_service"),
		),
	)
	if err != nil {
		log.Fatalf("Failed to Initialize Resource: %v", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(r),
	)
}
