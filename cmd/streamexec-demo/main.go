// Package main runs a self-contained demo topology: one spout executor
// emitting anchored word tuples, and a sink task acting as both consumer and
// acker so the full emit -> pending -> ack cycle is exercised in-process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/c360/streamexec/config"
	"github.com/c360/streamexec/engine"
	"github.com/c360/streamexec/executor"
	"github.com/c360/streamexec/metric"
	"github.com/c360/streamexec/queue"
	"github.com/c360/streamexec/transport"
	"github.com/c360/streamexec/tuple"
)

const (
	spoutTaskID = 1
	sinkTaskID  = 2
)

func main() {
	var (
		configPath = flag.String("config", "", "path to topology config JSON")
		duration   = flag.Duration("duration", 10*time.Second, "how long to run")
		natsURL    = flag.String("nats-url", "", "optional NATS URL for the remote transport")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	logger := setupLogger(*verbose)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	var remote engine.RemoteSender
	if *natsURL != "" {
		sender, err := transport.Connect(*natsURL, logger)
		if err != nil {
			logger.Error("transport connect failed", "error", err)
			os.Exit(1)
		}
		if err := sender.Start(ctx); err != nil {
			logger.Error("transport start failed", "error", err)
			os.Exit(1)
		}
		defer sender.Close(5 * time.Second)
		remote = sender
	}

	if err := run(ctx, cfg, remote, logger); err != nil {
		logger.Error("demo failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.New()
		cfg.MaxSpoutPending = 512
		cfg.MessageTimeoutSecs = 5
		return cfg, nil
	}
	return config.Load(path)
}

func run(ctx context.Context, cfg *config.Config, remote engine.RemoteSender, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	eng := engine.New(cfg, remote, logger, registry)

	sinkQueue, err := eng.RegisterQueue("receive-sink", []int{sinkTaskID})
	if err != nil {
		return err
	}

	topology := &executor.Topology{
		Streams: map[string]executor.Grouper{
			tuple.DefaultStreamID: executor.NewShuffleGrouper([]int{sinkTaskID}),
		},
		Ackers: []int{sinkTaskID},
	}

	spout := newWordSpout()
	exec, err := eng.AddSpoutExecutor("word-spout", topology,
		[]int{spoutTaskID}, []executor.Spout{spout}, nil)
	if err != nil {
		return err
	}

	spoutQueue, _ := eng.LocalQueue(spoutTaskID)
	sink := &ackerSink{spoutQueue: spoutQueue}

	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		runSink(ctx, sinkQueue, sink)
	}()

	eng.Activate()
	err = eng.Run(ctx)

	<-sinkDone
	logger.Info("demo finished",
		"emitted", exec.EmittedCount(),
		"delivered", sink.delivered.Load(),
		"acked", spout.acked.Load(),
		"pending", exec.PendingSize(),
		"sampled_latency_ms", fmt.Sprintf("%.2f", exec.LatencySampled().Mean()))
	return err
}

// runSink drains the sink queue, counting data tuples and answering acker
// bookkeeping with acks back to the spout.
func runSink(ctx context.Context, q *queue.BoundedQueue[tuple.Msg], sink *ackerSink) {
	for ctx.Err() == nil {
		n, err := q.Consume(sink)
		if err != nil {
			return
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
		}
	}
}

// ackerSink is the consumer side of the demo: a stand-in for a downstream
// bolt plus its acker.
type ackerSink struct {
	spoutQueue *queue.BoundedQueue[tuple.Msg]
	delivered  atomic.Int64
}

func (s *ackerSink) Accept(msg tuple.Msg) error {
	tm, ok := msg.(tuple.TupleMsg)
	if !ok {
		return nil
	}
	switch tm.Tuple.StreamID {
	case tuple.AckerInitStreamID:
		rootID, _ := tm.Tuple.Values[0].(int64)
		taskID, _ := tm.Tuple.Values[2].(int)
		return s.spoutQueue.Publish(context.Background(), tuple.AckMsg{
			RootID:      rootID,
			TimeDeltaMs: -1,
			TaskID:      taskID,
		})
	default:
		s.delivered.Add(1)
	}
	return nil
}

func (s *ackerSink) Flush() error {
	return nil
}

// wordSpout emits a rotating word list with anchored message ids.
type wordSpout struct {
	collector *executor.OutputCollector
	words     []string
	seq       int64
	acked     atomic.Int64
	failed    atomic.Int64
}

func newWordSpout() *wordSpout {
	return &wordSpout{
		words: []string{"nathan", "mike", "jackson", "golda", "bertels"},
	}
}

func (w *wordSpout) Open(_ executor.TaskContext, collector *executor.OutputCollector) error {
	w.collector = collector
	return nil
}

func (w *wordSpout) Activate() error   { return nil }
func (w *wordSpout) Deactivate() error { return nil }

func (w *wordSpout) NextTuple() error {
	word := w.words[w.seq%int64(len(w.words))]
	w.seq++
	_, err := w.collector.Emit(context.Background(), tuple.DefaultStreamID,
		tuple.Values{word}, w.seq)
	return err
}

func (w *wordSpout) Ack(_ any) error {
	w.acked.Add(1)
	return nil
}

func (w *wordSpout) Fail(_ any, _ string) error {
	w.failed.Add(1)
	return nil
}

func (w *wordSpout) Close() error { return nil }
