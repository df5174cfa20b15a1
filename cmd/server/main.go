package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"docpipe/internal/audit"
	"docpipe/internal/blobstore"
	"docpipe/internal/cachebuilder"
	"docpipe/internal/config"
	"docpipe/internal/convert"
	"docpipe/internal/dedup"
	"docpipe/internal/domain"
	"docpipe/internal/extractor"
	"docpipe/internal/handler"
	"docpipe/internal/llm"
	"docpipe/internal/llm/claude"
	"docpipe/internal/llm/gemini"
	"docpipe/internal/llm/openai"
	"docpipe/internal/lock"
	"docpipe/internal/logger"
	"docpipe/internal/metrics"
	"docpipe/internal/notify"
	"docpipe/internal/notify/ses"
	"docpipe/internal/parseclient"
	"docpipe/internal/pipeline"
	"docpipe/internal/port"
	"docpipe/internal/repository/memory"
	"docpipe/internal/repository/postgres"
	"docpipe/internal/router"
	"docpipe/internal/service"
	gcsstorage "docpipe/internal/storage/gcs"
	localstorage "docpipe/internal/storage/local"
	s3storage "docpipe/internal/storage/s3"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// repositories bundles one persistence driver's repositories.
type repositories struct {
	files     port.FileRepository
	questions port.QuestionRepository
	edits     port.AnswerEditRepository
	audits    port.AuditRepository
	schemas   port.SchemaRepository
	projects  port.ProjectRepository
	pinger    handler.Pinger
	close     func()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	appLog, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, err := openRepositories(&cfg.DB)
	if err != nil {
		return err
	}
	defer repos.close()

	backend, err := openStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	blobs, err := blobstore.New(backend,
		blobstore.WithEncryptionKey(cfg.Storage.EncryptionKey),
		blobstore.WithVerifyOnRead(cfg.Storage.VerifyOnRead),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize content store: %w", err)
	}

	locker := lock.NewMemoryLocker()
	if cfg.Redis.Addr != "" {
		client, err := lock.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() { _ = client.Close() }()
		locker = lock.NewRedisLocker(client)
	}

	llmClient, err := llmRegistry().Chain(cfg.LLM.Chain(), appLog.With("component", "llm"))
	if err != nil {
		return fmt.Errorf("failed to initialize llm providers: %w", err)
	}
	notifier, err := newNotifier(&cfg.Notify, appLog)
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}

	metrics.Register(prometheus.DefaultRegisterer)

	// Pipeline stages
	signer := parseclient.NewSigner(cfg.Parse.CallbackSecret)
	cache := cachebuilder.New(blobs, locker, cachebuilder.Config{
		Cooldown: cfg.Pipeline.CacheCooldown,
	}, appLog.With("component", "cachebuilder"))

	extractors := map[domain.ExtractorKind]port.Extractor{domain.ExtractorLocal: extractor.NewLocal()}
	if llmClient != nil {
		extractors[domain.ExtractorRemote] = extractor.NewRemote(llmClient)
	}

	orchestrator := pipeline.New(pipeline.Deps{
		Files:     repos.files,
		Questions: repos.questions,
		Audits:    repos.audits,
		Schemas:   repos.schemas,
		Blobs:     blobs,
		Dedup:     dedup.NewFinder(repos.files, blobs.Stat, cfg.Dedup.Window()),
		Converter: convert.New(&cfg.Convert, blobs, blobstore.HashBytes, appLog.With("component", "convert")),
		Parser: parseclient.New(&cfg.Parse, cfg.Pipeline.ParseDeadline, cfg.Pipeline.ParseSubmitTimeout,
			locker, signer, appLog),
		Cache: cache,
		Extractor: extractor.NewDispatcher(repos.questions, repos.edits, repos.schemas, extractors,
			&cfg.Extract, cfg.Pipeline.ExtractTimeout, appLog.With("component", "extractor")),
		Auditor: audit.NewDispatcher(repos.questions, repos.audits, repos.schemas,
			audit.NewEngine(audit.Builtin(), appLog.With("component", "audit")), audit.NewJudge(llmClient),
			cfg.Audit.PresetEnabled, appLog.With("component", "audit")),
		Notifier: notifier,
		Locker:   locker,
	}, pipeline.ConfigFrom(cfg), appLog)

	if err := orchestrator.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover pipeline state: %w", err)
	}
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		orchestrator.Run(ctx)
	}()

	// Services
	intakeSvc := service.NewIntakeService(repos.files, repos.questions, repos.schemas, repos.projects,
		blobs, orchestrator, cfg.Upload, appLog)
	fileSvc := service.NewFileService(repos.files, repos.schemas, repos.projects, orchestrator, appLog)
	statusSvc := service.NewStatusService(repos.files, repos.questions, cfg.Parse.CallbackBaseURL)
	resultSvc := service.NewResultService(repos.files, repos.questions, repos.schemas, repos.audits)
	artifactSvc := service.NewArtifactService(repos.files, blobs, cache)
	questionSvc := service.NewQuestionService(repos.files, repos.questions, repos.schemas, repos.edits,
		orchestrator, appLog)

	// Handlers
	r := router.Setup(cfg, router.Handlers{
		File:     handler.NewFileHandler(intakeSvc, fileSvc, statusSvc, appLog),
		Artifact: handler.NewArtifactHandler(artifactSvc, resultSvc, appLog),
		Project:  handler.NewProjectHandler(fileSvc, appLog),
		Question: handler.NewQuestionHandler(questionSvc, appLog),
		Callback: handler.NewCallbackHandler(signer, orchestrator, appLog),
		Health:   handler.NewHealthHandler(repos.pinger),
	}, appLog)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		appLog.Info("server: listening", "addr", srv.Addr, "environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			<-pipelineDone
			return fmt.Errorf("server failed: %w", err)
		}
	}

	appLog.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("server: graceful shutdown failed", "error", err)
	}
	stop()
	<-pipelineDone
	return nil
}

func openRepositories(cfg *config.DBConfig) (*repositories, error) {
	if cfg.Driver == "memory" {
		store := memory.NewStore()
		return &repositories{
			files:     store.Files(),
			questions: store.Questions(),
			edits:     store.Edits(),
			audits:    store.Audits(),
			schemas:   store.Schemas(),
			projects:  store.Projects(),
			close:     func() {},
		}, nil
	}

	db, err := postgres.NewDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &repositories{
		files:     postgres.NewFileRepo(db),
		questions: postgres.NewQuestionRepo(db),
		edits:     postgres.NewAnswerEditRepo(db),
		audits:    postgres.NewAuditRepo(db),
		schemas:   postgres.NewSchemaRepo(db),
		projects:  postgres.NewProjectRepo(db),
		pinger:    db,
		close:     func() { _ = db.Close() },
	}, nil
}

func openStorage(ctx context.Context, cfg *config.Config) (port.ObjectStorage, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return s3storage.NewS3Client(&cfg.S3)
	case "gcs":
		return gcsstorage.NewGCSClient(ctx, &cfg.GCS)
	case "local", "":
		return localstorage.NewLocalStorage(cfg.Storage.LocalRoot)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func llmRegistry() *llm.Registry {
	reg := llm.NewRegistry()
	reg.Register("claude", func(c *config.LLMProviderConfig) (port.LLMClient, error) { return claude.NewClient(c), nil })
	reg.Register("openai", func(c *config.LLMProviderConfig) (port.LLMClient, error) { return openai.NewClient(c), nil })
	reg.Register("gemini", func(c *config.LLMProviderConfig) (port.LLMClient, error) { return gemini.NewClient(c), nil })
	return reg
}

func newNotifier(cfg *config.NotifyConfig, log *logger.Logger) (port.FailureNotifier, error) {
	switch cfg.Provider {
	case "webhook":
		return notify.NewWebhook(10*time.Second, log.With("component", "notify")), nil
	case "ses":
		return ses.NewSESNotifier(cfg.Region, cfg.FromAddress, cfg.FromName)
	default:
		return notify.NewNoop(log.With("component", "notify")), nil
	}
}
