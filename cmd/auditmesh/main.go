// auditmesh is the per-node entry point of the replicated audit ledger.
//
//	auditmesh run      — consume from the broadcast channel forever, with the
//	                     operator HTTP API on the side
//	auditmesh drain    — consume until the queue stays empty, print the
//	                     count, and exit (scripted/test use)
//	auditmesh verify   — recompute this node's Merkle root for cross-node
//	                     reconciliation
//	auditmesh record   — capture one synthetic mutation (test use)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auditmesh/auditmesh/internal/api"
	"github.com/auditmesh/auditmesh/internal/broadcast"
	"github.com/auditmesh/auditmesh/internal/capture"
	"github.com/auditmesh/auditmesh/internal/config"
	"github.com/auditmesh/auditmesh/internal/fields"
	"github.com/auditmesh/auditmesh/internal/ledger"
	"github.com/auditmesh/auditmesh/internal/merkle"
	"github.com/auditmesh/auditmesh/internal/replica"
	"github.com/auditmesh/auditmesh/internal/store"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "auditmesh",
	Short: "Replicated change-data-capture audit ledger node",
	Long: `auditmesh runs one node of the replicated audit ledger: it consumes
captured mutations from the broadcast channel, appends them idempotently to
its own ledger store, and serves read-only inspection endpoints.`,
	SilenceUsage: true,
}

func init() {
	drainCmd.Flags().DurationVar(&drainTimeout, "timeout", 5*time.Second, "stop after this long with no further messages")
	recordCmd.Flags().StringVar(&recEntityClass, "entity-class", "", "logical entity type name")
	recordCmd.Flags().StringVar(&recEntityID, "entity-id", "", "entity identifier")
	recordCmd.Flags().StringArrayVar(&recFields, "field", nil, "field as name=value (repeatable)")
	recordCmd.Flags().BoolVar(&recDelete, "delete", false, "record a delete instead of a save")
	recordCmd.Flags().StringVar(&recReason, "reason", "", "optional reason (deletes)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(recordCmd)
}

// node is the assembled per-node component bundle.
type node struct {
	cfg *config.Config
	log *zap.Logger
	db  *pgxpool.Pool
	st  store.Store
	pub *broadcast.Publisher
	rec *capture.Recorder
}

// newNode loads configuration and connects the ledger datastore. Broken
// configuration is fatal here, at construction time — it is never retried.
func newNode(ctx context.Context, log *zap.Logger) (*node, error) {
	cfg, err := config.Load(log)
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	log.Info("connected to ledger datastore")

	st := store.NewPostgres(db, log)
	pub := broadcast.NewPublisher(broadcast.Config{
		Enabled: cfg.Broker.Enabled,
		Brokers: cfg.Broker.Brokers,
		Topic:   cfg.Broker.Topic,
	}, st, log)

	cipher, err := fields.NewCipher(cfg.CipherName, cfg.CipherKey)
	if err != nil {
		db.Close()
		return nil, err
	}
	rec := capture.NewRecorder(cfg.NodeID, fields.NewExtractor(cipher), pub, log)

	return &node{cfg: cfg, log: log, db: db, st: st, pub: pub, rec: rec}, nil
}

// replica binds this node's queue on the broadcast channel. Consuming
// requires configured brokers; offline nodes only publish locally.
func (n *node) replica() (*replica.Replica, error) {
	if len(n.cfg.Broker.Brokers) == 0 {
		return nil, fmt.Errorf("consuming requires broker.brokers to be configured")
	}
	fetcher := broadcast.NewKafkaFetcher(n.cfg.Broker.Brokers, n.cfg.Broker.Topic, n.cfg.Broker.Queue)
	return replica.New(n.cfg.NodeID, n.st, n.pub, fetcher, n.log), nil
}

func (n *node) close() {
	if err := n.pub.Close(); err != nil {
		n.log.Warn("close publisher", zap.Error(err))
	}
	n.db.Close()
}

func newLogger() *zap.Logger {
	logger, _ := zap.NewProduction()
	return logger
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Consume from the broadcast channel forever",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer log.Sync() //nolint:errcheck

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		n, err := newNode(ctx, log)
		if err != nil {
			log.Error("node startup failed", zap.Error(err))
			return err
		}
		defer n.close()

		rep, err := n.replica()
		if err != nil {
			log.Error("queue binding failed", zap.Error(err))
			return err
		}
		defer rep.Close() //nolint:errcheck

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", n.cfg.HTTP.Port),
			Handler: api.NewRouter(n.st, api.Options{
				NodeID:       n.cfg.NodeID,
				CORSOrigins:  n.cfg.HTTP.CORSOrigins,
				RateLimitRPS: n.cfg.HTTP.RateLimitRPS,
			}, log),
		}
		go func() {
			log.Info("operator api listening", zap.Int("port", n.cfg.HTTP.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("operator api failed", zap.Error(err))
			}
		}()

		done := make(chan error, 1)
		go func() { done <- rep.Run(ctx) }()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			log.Info("shutdown signal received")
			cancel()
			<-done
		case err := <-done:
			if err != nil {
				return err
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var drainTimeout time.Duration

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Consume until the queue stays empty, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer log.Sync() //nolint:errcheck

		ctx := context.Background()
		n, err := newNode(ctx, log)
		if err != nil {
			return err
		}
		defer n.close()

		rep, err := n.replica()
		if err != nil {
			return err
		}
		defer rep.Close() //nolint:errcheck

		count, err := rep.ConsumeAll(ctx, drainTimeout)
		if err != nil {
			return err
		}
		fmt.Printf("consumed %d transaction(s)\n", count)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute this node's Merkle root over the stored ledger",
	Long: `verify prints the node id, entry count, and Merkle root of the full
ledger in append order. Comparing the output across nodes detects gaps:
equal counts and equal roots mean equal ledgers in equal order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer log.Sync() //nolint:errcheck

		ctx := context.Background()
		n, err := newNode(ctx, log)
		if err != nil {
			return err
		}
		defer n.close()

		txs, err := n.st.Transactions(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("node:  %s\ncount: %d\nroot:  %s\n", n.cfg.NodeID, len(txs), merkle.BuildRoot(txs))
		return nil
	},
}

var (
	recEntityClass string
	recEntityID    string
	recFields      []string
	recDelete      bool
	recReason      string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Capture one synthetic mutation (test use)",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer log.Sync() //nolint:errcheck

		if recEntityClass == "" || recEntityID == "" {
			return fmt.Errorf("--entity-class and --entity-id are required")
		}

		meta := &fields.Metadata{EntityClass: recEntityClass}
		rec := fields.Record{}
		for _, f := range recFields {
			name, value, ok := strings.Cut(f, "=")
			if !ok {
				return fmt.Errorf("malformed --field %q, want name=value", f)
			}
			meta.Descriptors = append(meta.Descriptors, fields.Descriptor{Name: name, Kind: fields.KindString})
			rec[name] = value
		}

		ctx := context.Background()
		n, err := newNode(ctx, log)
		if err != nil {
			return err
		}
		defer n.close()

		var tx *ledger.Transaction
		if recDelete {
			snapshot, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("hash pre-delete snapshot: %w", err)
			}
			tx, err = n.rec.RecordDelete(ctx, meta, rec, recEntityID, ledger.Sha256Hex(snapshot), recReason)
			if err != nil {
				return err
			}
		} else {
			var err error
			tx, err = n.rec.RecordSave(ctx, meta, rec, recEntityID)
			if err != nil {
				return err
			}
		}

		if tx == nil {
			fmt.Println("skipped: no ledger-eligible fields")
			return nil
		}
		fmt.Printf("recorded %s\n", tx.TransactionID)
		return nil
	},
}
