package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	IngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "news_ingested_total",
		Help: "Обработанные публикации по результату",
	}, []string{"outcome"})
	IngestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "news_ingest_errors_total",
		Help: "Ошибки приёма публикаций по типу",
	}, []string{"kind"})
	CapabilityFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "capability_failures_total",
		Help: "Отказы внешних сервисов, заменённые значениями по умолчанию",
	}, []string{"capability"})
	ArchivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "news_archived_total",
		Help: "Новости, перенесённые в архив",
	})
	SweepSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lifecycle_sweep_seconds",
		Help:    "Длительность прохода архивации",
		Buckets: prometheus.DefBuckets,
	})
	FeedComposeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "feed_compose_seconds",
		Help:    "Время построения страницы ленты",
		Buckets: prometheus.DefBuckets,
	})
	FeedBatches = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "feed_compose_batches",
		Help:    "Количество пакетов кандидатов на одну страницу",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 20},
	})
	InteractionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "interactions_total",
		Help: "События взаимодействия по действию и признаку применения",
	}, []string{"action", "applied"})
	ModerationTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_transitions_total",
		Help: "Переходы модерации",
	}, []string{"target", "to", "trigger"})
	SourcesBlocked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sources_auto_blocked_total",
		Help: "Источники, заблокированные автоматически",
	})
	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		IngestedTotal,
		IngestErrors,
		CapabilityFailures,
		ArchivedTotal,
		SweepSeconds,
		FeedComposeSeconds,
		FeedBatches,
		InteractionsTotal,
		ModerationTransitions,
		SourcesBlocked,
		BotSendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// Handler возвращает обработчик /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(time.Since(start).Seconds())
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// ObserveCapabilityFailure учитывает отказ внешнего сервиса.
func ObserveCapabilityFailure(capability string) {
	CapabilityFailures.WithLabelValues(capability).Inc()
}

// ObserveIngest учитывает результат обработки публикации.
func ObserveIngest(outcome string) {
	IngestedTotal.WithLabelValues(outcome).Inc()
}

// ObserveInteraction учитывает событие взаимодействия.
func ObserveInteraction(action string, applied bool) {
	label := "false"
	if applied {
		label = "true"
	}
	InteractionsTotal.WithLabelValues(action, label).Inc()
}

// ObserveTransition учитывает переход модерации.
func ObserveTransition(target, to, trigger string) {
	ModerationTransitions.WithLabelValues(target, to, trigger).Inc()
}
