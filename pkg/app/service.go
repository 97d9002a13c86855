// Package app wires the configured backends into one running bot service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ReaganKibet/chatbot-trial/pkg/catalog"
	"github.com/ReaganKibet/chatbot-trial/pkg/classifier"
	"github.com/ReaganKibet/chatbot-trial/pkg/config"
	"github.com/ReaganKibet/chatbot-trial/pkg/conversation"
	"github.com/ReaganKibet/chatbot-trial/pkg/handlers"
	"github.com/ReaganKibet/chatbot-trial/pkg/metrics"
	"github.com/ReaganKibet/chatbot-trial/pkg/models"
	"github.com/ReaganKibet/chatbot-trial/pkg/pipeline"
	"github.com/ReaganKibet/chatbot-trial/pkg/queue"
	redisClient "github.com/ReaganKibet/chatbot-trial/pkg/redis"
	"github.com/ReaganKibet/chatbot-trial/pkg/server"
	"github.com/ReaganKibet/chatbot-trial/pkg/store"
	"github.com/ReaganKibet/chatbot-trial/pkg/store/mongo"
	"github.com/ReaganKibet/chatbot-trial/pkg/transport"
)

const reportSchedule = "daily-report"

type Service struct {
	config         *config.Config
	logger         *logrus.Logger
	metrics        *metrics.Metrics
	gatherer       prometheus.Gatherer
	redis          *redisClient.Client
	leaderElection *queue.LeaderElection
	events         *queue.StreamSink
	queue          *queue.Queue
	repo           store.Repository
	handler        *handlers.Handler
	server         *http.Server
}

// NewService connects the configured backends and registers the job handlers.
// Nothing runs until Start.
func NewService(ctx context.Context, cfg *config.Config, reg *prometheus.Registry, logger *logrus.Logger) (*Service, error) {
	s := &Service{
		config:   cfg,
		logger:   logger,
		metrics:  metrics.NewMetrics(reg),
		gatherer: reg,
	}
	if err := s.build(ctx); err != nil {
		s.closeBackends(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Service) build(ctx context.Context) error {
	cfg := s.config
	loc := cfg.Location()

	qs, elector, err := s.queueStore()
	if err != nil {
		return err
	}
	s.queue = queue.New(qs, s.queueOptions(), elector, s.logger, s.metrics)
	if s.redis != nil {
		s.events = queue.NewStreamSink(s.redis.GetRedisClient(), s.logger)
		s.queue.OnEvent(s.events.Listener())
	}

	if s.repo, err = s.repository(ctx, loc); err != nil {
		return err
	}

	cat, err := s.catalog()
	if err != nil {
		return err
	}

	sender, err := s.sender()
	if err != nil {
		return err
	}

	orch := pipeline.New(pipeline.Dependencies{
		Repository: s.repo,
		Classifier: classifier.New(s.primaryClassifier(), cfg.NLPTimeout(), s.logger, s.metrics),
		Machine:    conversation.NewMachine(cat, s.logger, s.metrics),
		Sender:     sender,
		Queue:      s.queue,
		Location:   loc,
		Logger:     s.logger,
	})
	orch.Register(s.queue, cfg.MessageConcurrency, cfg.AnalyticsConcurrency, cfg.ReportConcurrency)

	if cfg.ReportCron != "" {
		if err := s.queue.AddSchedule(queue.Schedule{
			Name: reportSchedule,
			Expr: cfg.ReportCron,
			Kind: models.JobGenerateReport,
			Payload: func(tick time.Time) interface{} {
				return models.ReportRequest{Day: models.DayKey(tick.In(loc).AddDate(0, 0, -1), loc)}
			},
		}); err != nil {
			return err
		}
	}

	s.handler = handlers.NewHandler(s.queue, s.repo, s.signatureValidator(), s.logger, s.metrics)
	s.handler.EnableSessionAdmin(s.repo, cfg.AdminToken)
	return nil
}

func (s *Service) queueOptions() queue.Options {
	cfg := s.config
	opts := queue.DefaultOptions()
	opts.MaxAttempts = cfg.JobMaxAttempts
	opts.Backoff = cfg.JobBackoff()
	opts.Lease = cfg.JobLease()
	opts.MaxStalls = cfg.JobMaxStalls
	opts.PollInterval = cfg.PollInterval()
	opts.RetainCompleted = cfg.RetainCompleted
	opts.RetainFailed = cfg.RetainFailed
	opts.RetainAge = cfg.RetainAge()
	opts.CleanupInterval = cfg.CleanupInterval()
	return opts
}

func (s *Service) queueStore() (queue.Store, queue.Elector, error) {
	if s.config.QueueBackend == config.BackendMemory {
		s.logger.Warn("Using in-memory queue; jobs are lost on restart")
		return queue.NewMemoryStore(), nil, nil
	}

	workers := s.config.MessageConcurrency + s.config.AnalyticsConcurrency + s.config.ReportConcurrency
	client, err := redisClient.NewClient(redisClient.DefaultConnectionConfig(s.config.RedisURL).ForWorkers(workers), s.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	s.redis = client

	rdb := client.GetRedisClient()
	s.leaderElection = queue.NewLeaderElection(rdb, s.config.PodID, s.config.LeaderElectionTTLDuration(), s.logger, s.metrics)
	return queue.NewRedisStore(rdb, s.logger, s.metrics), s.leaderElection, nil
}

func (s *Service) repository(ctx context.Context, loc *time.Location) (store.Repository, error) {
	if s.config.StoreBackend == config.BackendMemory {
		s.logger.Warn("Using in-memory session store; sessions are lost on restart")
		return store.NewMemoryRepository(loc), nil
	}

	client, err := mongo.Connect(ctx, s.config.MongoURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	repo, err := mongo.New(mongo.Options{
		Client:   client,
		Database: s.config.MongoDB,
		Timeout:  s.config.StoreTimeout(),
		Location: loc,
		Metrics:  s.metrics,
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.logger.WithField("database", s.config.MongoDB).Info("Connected to MongoDB")
	return repo, nil
}

func (s *Service) catalog() (catalog.Catalog, error) {
	if s.config.CatalogPath == "" {
		return catalog.Default(), nil
	}
	cat, err := catalog.LoadFile(s.config.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return cat, nil
}

func (s *Service) primaryClassifier() classifier.Provider {
	if s.config.OpenAIAPIKey == "" {
		s.logger.Info("No OpenAI key configured; classifying offline only")
		return nil
	}
	return classifier.NewOpenAIProvider(classifier.OpenAIConfig{
		BaseURL: s.config.OpenAIBaseURL,
		APIKey:  s.config.OpenAIAPIKey,
		Model:   s.config.OpenAIModel,
		Timeout: s.config.NLPTimeout(),
	}, nil)
}

func (s *Service) sender() (transport.Sender, error) {
	cfg := s.config
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioWhatsAppNumber == "" {
		if cfg.IsProduction() {
			return nil, errors.New("twilio credentials are required in production")
		}
		s.logger.Warn("Twilio not configured; replies are only logged")
		return transport.NewLogSender(s.logger), nil
	}
	return transport.NewTwilioSender(transport.TwilioConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioWhatsAppNumber,
		Timeout:    cfg.DeliveryTimeout(),
		RatePerSec: cfg.DeliveryRatePerSec,
	}, nil, s.logger, s.metrics)
}

func (s *Service) signatureValidator() *handlers.SignatureValidator {
	if s.config.SignatureBypass() {
		s.logger.Warn("Webhook signature validation is disabled")
		return nil
	}
	v := handlers.NewSignatureValidator(s.config.TwilioAuthToken, s.config.WebhookPublicURL)
	if v == nil {
		s.logger.Warn("No Twilio auth token; webhook signatures are not checked")
	}
	return v
}

func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting chatbot service")

	if s.leaderElection != nil {
		s.leaderElection.Start(ctx)
	}
	if s.events != nil {
		s.events.Start(ctx)
	}

	if err := s.queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue: %w", err)
	}

	s.startHTTPServer()

	s.logger.WithFields(logrus.Fields{
		"pod_id":        s.config.PodID,
		"queue_backend": s.config.QueueBackend,
		"store_backend": s.config.StoreBackend,
	}).Info("Chatbot service started successfully")
	return nil
}

// Stop closes ingress first, then lets in-flight jobs finish before
// releasing leadership and the backends.
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("Stopping chatbot service")

	var errs []error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.WithError(err).Error("Failed to shutdown HTTP server gracefully")
			errs = append(errs, err)
		}
	}

	if err := s.queue.Drain(ctx); err != nil {
		s.logger.WithError(err).Warn("Queue did not drain before the deadline")
		errs = append(errs, err)
	}
	s.queue.Stop()
	if s.events != nil {
		s.events.Stop()
	}

	if s.leaderElection != nil {
		s.leaderElection.Stop()
	}
	s.closeBackends(ctx)

	s.logger.Info("Chatbot service stopped")
	return errors.Join(errs...)
}

func (s *Service) closeBackends(ctx context.Context) {
	if s.repo != nil {
		if err := s.repo.Close(ctx); err != nil {
			s.logger.WithError(err).Warn("Failed to close session store")
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
}

func (s *Service) IsLeader() bool {
	return s.queue.IsLeader()
}

// Router serves the same routes as the HTTP server
func (s *Service) Router() http.Handler {
	return server.NewRouter(s.handler, s.gatherer, s.logger)
}

func (s *Service) startHTTPServer() {
	s.server = server.NewHTTPServer(s.config, s.handler, s.gatherer, s.logger)

	go func() {
		s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("HTTP server failed")
		}
	}()
}
