package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habita_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "habita_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "habita_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	channelsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "habita_chat_channels_open",
			Help: "Number of open realtime subscription channels.",
		},
	)
	channelPushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habita_chat_channel_pushes_total",
			Help: "Total number of realtime channel pushes delivered.",
		},
		[]string{"kind"},
	)
	sendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "habita_chat_sends_total",
			Help: "Total number of optimistic message sends accepted.",
		},
	)
	sendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habita_chat_send_failures_total",
			Help: "Total number of message sends that ended in failed state.",
		},
		[]string{"path"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		channelsOpen,
		channelPushesTotal,
		sendsTotal,
		sendFailuresTotal,
	)
}

func HTTPMetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			httpRequestsTotal.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func IncWSActive() { wsActiveConnections.Inc() }
func DecWSActive() { wsActiveConnections.Dec() }

func IncChannelsOpen() { channelsOpen.Inc() }
func DecChannelsOpen() { channelsOpen.Dec() }

// IncChannelPush counts one delivered push; kind is "message" or "conversation".
func IncChannelPush(kind string) {
	channelPushesTotal.WithLabelValues(kind).Inc()
}

func IncSend() { sendsTotal.Inc() }

// IncSendFailure counts one failed send; path is "durable" or "realtime".
func IncSendFailure(path string) {
	sendFailuresTotal.WithLabelValues(path).Inc()
}
