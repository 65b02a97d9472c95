// Command wsecho serves a WebSocket echo server.
//
// Every message is echoed back to its sender. In the text and json modes
// messages identified as "broadcast" are sent to every connection instead,
// across instances when -redis-addr is set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/peterbourgon/ff/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/sockwire/websocket"
	"github.com/sockwire/websocket/internal/wsecho"
	"github.com/sockwire/websocket/wsredis"
)

func main() {
	err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsecho: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

func parseMode(s string) (websocket.PayloadMode, string, error) {
	switch s {
	case "binary":
		return websocket.ModeBinary, "", nil
	case "text":
		return websocket.ModeText, websocket.SubprotocolMessageID, nil
	case "json":
		return websocket.ModeJSON, websocket.SubprotocolJSON, nil
	}
	return 0, "", fmt.Errorf("unknown mode %q (want binary, text or json)", s)
}

// relayBroadcaster publishes broadcasts through Redis so every instance
// delivers them.
type relayBroadcaster struct {
	relay *wsredis.Relay
}

func (b relayBroadcaster) Broadcast(typ websocket.DataType, p []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.relay.Publish(ctx, typ, p)
}

func run(args []string) error {
	fs := flag.NewFlagSet("wsecho", flag.ContinueOnError)
	var (
		addr         = fs.String("addr", "localhost:8080", "address to serve WebSocket connections on")
		metricsAddr  = fs.String("metrics-addr", "", "address to serve /metrics on, disabled when empty")
		mode         = fs.String("mode", "binary", "payload mode: binary, text or json")
		closeTimeout = fs.Duration("close-timeout", 10*time.Second, "how long to wait for pongs and close acknowledgements")
		readLimit    = fs.Int64("read-limit", 0, "maximum message size in bytes, 0 means unlimited")
		rateLimit    = fs.Float64("rate", 0, "messages per second dispatched per connection, 0 means unlimited")
		redisAddr    = fs.String("redis-addr", "", "redis address used to relay broadcasts, disabled when empty")
		channel      = fs.String("redis-channel", "wsecho", "redis channel used to relay broadcasts")
		debug        = fs.Bool("debug", false, "enable debug logging")
	)
	err := ff.Parse(fs, args, ff.WithEnvVarPrefix("WSECHO"))
	if err != nil {
		return err
	}

	log, err := newLogger(*debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	pm, subprotocol, err := parseMode(*mode)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	s, err := websocket.NewServer(&websocket.ServerOptions{
		RequiredSubprotocol: subprotocol,
		Mode:                pm,
		CloseTimeout:        *closeTimeout,
		ReadLimit:           *readLimit,
		MessageRate:         rate.Limit(*rateLimit),
		Logger:              log,
		Registerer:          reg,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var b wsecho.Broadcaster = s
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr: *redisAddr,
		})
		defer rdb.Close()

		relay := wsredis.New(rdb, *channel, s, log)
		go func() {
			err := relay.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("redis relay stopped", zap.Error(err))
			}
		}()
		b = relayBroadcaster{relay: relay}
	}

	err = wsecho.Register(s.Router, b, log)
	if err != nil {
		return err
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			err := http.ListenAndServe(*metricsAddr, mux)
			if err != nil {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.ListenAndServe(*addr)
	}()

	select {
	case err = <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	err = s.Close()
	if err != nil {
		return err
	}
	<-serveErr
	return nil
}
