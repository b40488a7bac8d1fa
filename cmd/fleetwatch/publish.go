package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/septivank/fleetwatch/internal/config"
	"github.com/septivank/fleetwatch/internal/mq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type publishOptions struct {
	File    string
	Board   int64
	Session string
	Count   int
	Gzip    bool
}

func newPublishCommand() *cobra.Command {
	var opts publishOptions

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a telemetry batch to the ingest exchange",
		Long: "Publishes an NDJSON file (or stdin with --file -) to the RabbitMQ ingest exchange. " +
			"Without --file a synthetic flight is generated.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd.Context(), opts)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.File, "file", "", "NDJSON file to publish, - for stdin")
	fs.Int64Var(&opts.Board, "board", 1, "board number of the synthetic flight")
	fs.StringVar(&opts.Session, "session", "", "session token of the synthetic flight (default: generated)")
	fs.IntVar(&opts.Count, "count", 10, "number of synthetic samples")
	fs.BoolVar(&opts.Gzip, "gzip", false, "gzip the body")
	return cmd
}

func runPublish(ctx context.Context, opts publishOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.RabbitMQ.URL == "" {
		return fmt.Errorf("RABBITMQ_URL is required for publish")
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	body, err := publishBody(opts, time.Now())
	if err != nil {
		return err
	}
	encoding := ""
	if opts.Gzip {
		if body, err = gzipBody(body); err != nil {
			return err
		}
		encoding = "gzip"
	}

	conn, err := mq.Dial(ctx, logger, mq.DialConfig{
		URL:           cfg.RabbitMQ.URL,
		Retries:       uint64(cfg.RabbitMQ.DialRetries),
		RetryInterval: time.Second,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.IngestExchange, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	if err := publisher.PublishBatch(ctx, cfg.RabbitMQ.IngestRoutingKey, "application/x-ndjson", encoding, body); err != nil {
		return err
	}
	logger.Info("telemetry batch published",
		zap.String("exchange", cfg.RabbitMQ.IngestExchange),
		zap.String("routing_key", cfg.RabbitMQ.IngestRoutingKey),
		zap.Int("bytes", len(body)),
	)
	return nil
}

func publishBody(opts publishOptions, now time.Time) ([]byte, error) {
	switch opts.File {
	case "":
		sess := opts.Session
		if sess == "" {
			sess = now.UTC().Format("20060102-150405")
		}
		return syntheticFlight(opts.Board, sess, opts.Count, now)
	case "-":
		return io.ReadAll(os.Stdin)
	default:
		return os.ReadFile(opts.File)
	}
}

// syntheticFlight builds an NDJSON batch of count samples one second apart,
// ending at now, flying north-east from a fixed origin
func syntheticFlight(board int64, sess string, count int, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	start := now.UTC().Add(-time.Duration(count-1) * time.Second)
	for i := 0; i < count; i++ {
		rec := map[string]any{
			"boat":     board,
			"sess":     sess,
			"seq":      i + 1,
			"ts_epoch": start.Add(time.Duration(i) * time.Second).Unix(),
			"lat":      round7(50.4501 + float64(i)*0.0001),
			"lon":      round7(30.5234 + float64(i)*0.0001),
			"alt_m":    float64(10 + i),
			"gs":       12.5,
			"hdg":      45,
			"volt":     12.4,
			"mode":     "AUTO",
			"gps":      "3D",
			"arm":      1,
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("failed to encode sample %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func gzipBody(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, fmt.Errorf("failed to gzip body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to gzip body: %w", err)
	}
	return buf.Bytes(), nil
}

func round7(v float64) float64 {
	return math.Round(v*1e7) / 1e7
}
