package main

import (
	"context"
	"log"
	"os"

	"cloud.google.com/go/firestore"
	fbapp "firebase.google.com/go/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"habita/internal/adapter/api"
	"habita/internal/adapter/api/handler"
	apimiddleware "habita/internal/adapter/api/middleware"
	"habita/internal/adapter/api/router"
	"habita/internal/adapter/repository"
	"habita/internal/chat"
	"habita/internal/infrastructure/firebase"
	"habita/internal/infrastructure/metrics"
	"habita/internal/infrastructure/presence"
	"habita/internal/infrastructure/ratelimit"
	"habita/internal/infrastructure/storage"
	"habita/internal/infrastructure/websocket"
	"habita/internal/usecase"
	"habita/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	var opt option.ClientOption
	credentialsPath := ""

	serviceAccountJSON := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON")
	if serviceAccountJSON != "" {
		log.Printf("Using Firebase service account from environment variable")
		opt = option.WithCredentialsJSON([]byte(serviceAccountJSON))
	} else {
		credentialsPath = os.Getenv("FIREBASE_SERVICE_ACCOUNT_PATH")
		if credentialsPath == "" {
			log.Fatalf("FIREBASE_SERVICE_ACCOUNT_JSON or FIREBASE_SERVICE_ACCOUNT_PATH is required")
		}
		log.Printf("Using Firebase service account from file: %s", credentialsPath)
		opt = option.WithCredentialsFile(credentialsPath)
	}

	firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opt)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase: %v", err)
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase Auth: %v", err)
	}

	firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opt)
	if err != nil {
		log.Fatalf("Failed to create Firestore client: %v", err)
	}
	defer firestoreClient.Close()

	storageClient, err := storage.NewCloudStorageClient(ctx, cfg.StorageBucket, credentialsPath)
	if err != nil {
		log.Fatalf("Failed to initialize Cloud Storage: %v", err)
	}
	defer storageClient.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	presenceStore := presence.NewStore(redisClient, 0)

	conversationRepo := repository.NewFirestoreConversationRepository(firestoreClient)
	sessionRepo := repository.NewFirestoreSessionRepository(firestoreClient)
	accountRepo := repository.NewFirestoreAccountRepository(firestoreClient)

	chatUseCase := usecase.NewChatUseCase(sessionRepo, conversationRepo, accountRepo)
	accountUseCase := usecase.NewAccountUseCase(accountRepo, presenceStore)

	// In-process by default; a split deployment posts to the remote
	// chat-session API instead.
	var durable chat.DurableWriter = usecase.NewDurableBridge(chatUseCase)
	if cfg.DurableBaseURL != "" {
		durable = chat.NewRESTClient(cfg.DurableBaseURL, chat.WithAuthToken(func() string {
			return os.Getenv("DURABLE_API_TOKEN")
		}))
	}

	wsManager := websocket.NewManager()
	wsManager.Start(ctx)

	wsDeps := websocket.Deps{
		Messages: chat.NewFirestoreMessageChannel(firestoreClient),
		Roster:   chat.NewFirestoreConversationChannel(firestoreClient),
		Durable:  durable,
		Echo:     conversationRepo,
		Limiter:  ratelimit.NewRateLimiter(),
		Presence: presenceStore,
	}

	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(metrics.HTTPMetricsMiddleware())

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(firebase.NewFirebaseAuthClient(authClient))
	ticketManager := apimiddleware.NewTicketManager(cfg.TicketSecret, cfg.TicketTTL)

	chatHandler := handler.NewChatHandler(chatUseCase)
	accountHandler := handler.NewAccountHandler(accountUseCase)
	fileHandler := handler.NewFileHandler(storageClient, chatUseCase)
	wsHandler := handler.NewWebSocketHandler(wsManager, ticketManager, wsDeps)
	healthHandler := handler.NewHealthHandler()

	router.Setup(e, authMiddleware, chatHandler, accountHandler, fileHandler, wsHandler, healthHandler)

	log.Printf("Starting server on port %s...", cfg.ServerPort)
	if err := e.Start(":" + cfg.ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
