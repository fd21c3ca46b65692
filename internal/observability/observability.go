package observability

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"
)

// Metrics mirrors the teacher's observability.Metrics in shape — one
// struct of promauto-registered collectors threaded through every
// component constructor — with fields renamed to this domain's concerns.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	RoomsActive       prometheus.Gauge
	RoomQueueLen      *prometheus.GaugeVec
	CommandLatency    *prometheus.HistogramVec
	BroadcastLatency  prometheus.Observer
	CommandReject     *prometheus.CounterVec
	ResyncEvents      prometheus.Counter
	ReconnectTotal    prometheus.Counter
	TurnTimerBoots    prometheus.Counter
	AIThinkLatency    prometheus.Observer
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer.(*prometheus.Registry)
	}
	return &Metrics{
		ActiveConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Number of active websocket connections",
		}),
		RoomsActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "rooms_active",
			Help: "Number of live rooms in the registry",
		}),
		RoomQueueLen: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "room_actor_queue_len",
			Help: "Buffered commands waiting per room actor",
		}, []string{"room_id"}),
		CommandLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "command_latency_ms",
			Help:    "Latency for processing commands, by command type",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"command_type"}),
		BroadcastLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "broadcast_latency_ms",
			Help:    "Latency for fanning a snapshot out to every seated human",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		CommandReject: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "command_reject_total",
			Help: "Rejected commands, by error code",
		}, []string{"reason"}),
		ResyncEvents: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "resync_events_total",
			Help: "Full-state resyncs requested by clients after a gap",
		}),
		ReconnectTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "reconnect_total",
			Help: "Seats reconnected within the disconnect grace window",
		}),
		TurnTimerBoots: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "turn_timer_boots_total",
			Help: "Seats substituted with AI after a stalled turn",
		}),
		AIThinkLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "ai_think_latency_ms",
			Help:    "Randomized think delay before an AI seat acts",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

func SetupTracerProvider(ctx context.Context, serviceName string, stdout bool, logger *zap.Logger) (*sdktrace.TracerProvider, error) {
	var exporter *stdouttrace.Exporter
	var err error
	if stdout {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
	}

	rs := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(rs),
	)
	if exporter != nil {
		tp.RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter))
	}
	otel.SetTracerProvider(tp)
	logger.Info("tracer initialized")
	return tp, nil
}

func SetupLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	return cfg.Build()
}

// ZapToSlog wraps a zap.Logger as slog.Logger.
func ZapToSlog(logger *zap.Logger) *slog.Logger {
	return slog.New(slogHandler{logger.Sugar()})
}

type slogHandler struct {
	sugar *zap.SugaredLogger
}

func (h slogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h slogHandler) Handle(ctx context.Context, r slog.Record) error {
	args := make([]interface{}, 0, r.NumAttrs()*2)
	r.Attrs(func(a slog.Attr) bool {
		args = append(args, a.Key, a.Value.Any())
		return true
	})
	switch r.Level {
	case slog.LevelDebug:
		h.sugar.Debugw(r.Message, args...)
	case slog.LevelInfo:
		h.sugar.Infow(r.Message, args...)
	case slog.LevelWarn:
		h.sugar.Warnw(r.Message, args...)
	case slog.LevelError:
		h.sugar.Errorw(r.Message, args...)
	}
	return nil
}

func (h slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	args := make([]interface{}, 0, len(attrs)*2)
	for _, a := range attrs {
		args = append(args, a.Key, a.Value.Any())
	}
	return slogHandler{h.sugar.With(args...)}
}

func (h slogHandler) WithGroup(name string) slog.Handler {
	return h
}
