package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	fbapp "firebase.google.com/go/v4"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"topicmeet/internal/adapter/api"
	"topicmeet/internal/adapter/api/handler"
	apimiddleware "topicmeet/internal/adapter/api/middleware"
	"topicmeet/internal/adapter/api/router"
	"topicmeet/internal/adapter/repository"
	"topicmeet/internal/domain/service"
	"topicmeet/internal/infrastructure/docstore"
	"topicmeet/internal/infrastructure/events"
	"topicmeet/internal/infrastructure/firebase"
	"topicmeet/internal/infrastructure/ratelimit"
	"topicmeet/internal/infrastructure/storage"
	"topicmeet/internal/infrastructure/telemetry"
	"topicmeet/internal/infrastructure/websocket"
	"topicmeet/internal/usecase"
	"topicmeet/pkg/config"
	"topicmeet/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		logger.Error("Server stopped: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	opts := credentials(cfg.Firebase)

	firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.Firebase.ProjectID}, opts...)
	if err != nil {
		return fmt.Errorf("initialize Firebase: %w", err)
	}
	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		return fmt.Errorf("initialize Firebase Auth: %w", err)
	}

	store, err := openStore(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	blobs, err := openBlobStore(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer blobs.Close()

	publisher := events.NewPublisher(cfg.Messaging.AMQPURL, cfg.Messaging.Exchange)
	defer publisher.Close()

	clock := clockwork.NewRealClock()
	emitter := events.NewEmitter(publisher, cfg.Telemetry.ServiceName, clock)
	limiter := ratelimit.NewRateLimiter(clock, nil)

	userRepo := repository.NewUserRepository(store)
	topicRepo := repository.NewTopicRepository(store)
	friendRepo := repository.NewFriendRepository(store)
	chatRepo := repository.NewChatRepository(store)
	participantRepo := repository.NewParticipantRepository(store)
	presenceRepo := repository.NewPresenceRepository(store)

	firebaseAuthClient := firebase.NewFirebaseAuthClient(authClient, cfg.Firebase.APIKey)

	presenceUseCase := usecase.NewPresenceUseCase(presenceRepo, clock, usecase.PresenceOptions{
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		StatusThreshold:   cfg.Presence.StatusThreshold,
		TopicThreshold:    cfg.Presence.TopicThreshold,
		WriteTimeout:      cfg.Presence.WriteTimeout,
	})
	membershipUseCase := usecase.NewMembershipUseCase(participantRepo, userRepo, presenceUseCase, emitter, clock)
	friendUseCase := usecase.NewFriendUseCase(friendRepo, userRepo, limiter, emitter, clock)
	chatUseCase := usecase.NewChatUseCase(chatRepo, friendRepo, blobs, limiter, clock, cfg.Chat.MessagesPageSize)
	topicUseCase := usecase.NewTopicUseCase(topicRepo, limiter, emitter, clock, cfg.Chat.TopicsPageSize, cfg.Chat.MessagesPageSize)
	authUseCase := usecase.NewAuthUseCase(userRepo, participantRepo, presenceUseCase, firebaseAuthClient, emitter, clock)
	userUseCase := usecase.NewUserUseCase(userRepo, blobs, limiter, clock)

	wsManager := websocket.NewManager()
	wsHandler := handler.NewWebSocketHandler(wsManager, authUseCase, membershipUseCase, presenceUseCase, chatUseCase, cfg.AllowedOrigins)

	// A signed-out user's sessions must not keep heartbeats alive.
	unsubscribeAuth := authUseCase.OnAuthStateChanged(func(ev usecase.AuthStateEvent) {
		if !ev.SignedIn {
			wsHandler.DisconnectUser(ev.UserID)
		}
	})
	defer unsubscribeAuth()

	e := echo.New()
	e.HideBanner = true
	e.Validator = api.NewValidator()

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(apimiddleware.Metrics)
	e.Use(echomw.LoggerWithConfig(echomw.LoggerConfig{
		Skipper: func(c echo.Context) bool { return c.Path() == "/metrics" || c.Path() == "/health" },
	}))
	if len(cfg.AllowedOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: cfg.AllowedOrigins}))
	} else {
		e.Use(echomw.CORS())
	}

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	maxUpload := cfg.Blob.MaxUploadSize
	router.Setup(e, router.Handlers{
		Auth:       handler.NewAuthHandler(authUseCase),
		User:       handler.NewUserHandler(userUseCase, membershipUseCase, maxUpload),
		Topic:      handler.NewTopicHandler(topicUseCase, cfg.Chat.TopicsPageSize),
		Membership: handler.NewMembershipHandler(membershipUseCase),
		Friend:     handler.NewFriendHandler(friendUseCase),
		Chat:       handler.NewChatHandler(chatUseCase, maxUpload),
		Presence:   handler.NewPresenceHandler(presenceUseCase),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"store": func(ctx context.Context) error {
				_, err := store.Get(ctx, "health/ping")
				if errors.Is(err, docstore.ErrNotFound) {
					return nil
				}
				return err
			},
		}),
		WebSocket: wsHandler,
	}, apimiddleware.NewAuthMiddleware(authUseCase), apimiddleware.RateLimit(limiter))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server on port %s (store=%s, blobs=%s, events=%s)",
			cfg.ServerPort, cfg.Store.Driver, cfg.Blob.Driver, events.PublisherMode(publisher))
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		limiter.StartCleanupRoutine(gctx, 10*time.Minute)
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		logger.Info("Shutting down")
		// Hijacked WebSocket connections outlive e.Shutdown; it only stops
		// new upgrades. Sessions then leave their topics before heartbeats
		// are stopped.
		err := e.Shutdown(shutdownCtx)
		if werr := wsManager.CloseAll(shutdownCtx); werr != nil {
			logger.Warn("WebSocket sessions did not finish releasing: %v", werr)
		}
		presenceUseCase.Shutdown(shutdownCtx)
		return err
	})

	return g.Wait()
}

// credentials prefers the service account JSON from the environment (for
// production) and falls back to a file path, then to application default
// credentials.
func credentials(cfg config.FirebaseConfig) []option.ClientOption {
	if cfg.ServiceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON))}
	}
	if cfg.ServiceAccountPath != "" {
		logger.Info("Using Firebase service account from file: %s", cfg.ServiceAccountPath)
		return []option.ClientOption{option.WithCredentialsFile(cfg.ServiceAccountPath)}
	}
	logger.Info("Using application default credentials")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, opts []option.ClientOption) (docstore.Store, error) {
	if cfg.Store.Driver == "memory" {
		logger.Warn("Using the in-memory document store; data is lost on restart")
		return docstore.NewMemory(), nil
	}

	client, err := firestore.NewClient(ctx, cfg.Firebase.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create Firestore client: %w", err)
	}
	return docstore.NewFirestore(client), nil
}

func openBlobStore(ctx context.Context, cfg *config.Config, opts []option.ClientOption) (service.BlobStore, error) {
	if cfg.Blob.Driver == "s3" {
		blobs, err := storage.NewS3Client(ctx, cfg.Blob.S3Bucket, cfg.Blob.S3Region)
		if err != nil {
			return nil, fmt.Errorf("initialize S3: %w", err)
		}
		return blobs, nil
	}

	blobs, err := storage.NewCloudStorageClient(ctx, cfg.Blob.Bucket(cfg.Firebase.ProjectID), opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize Cloud Storage: %w", err)
	}
	return blobs, nil
}
