package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/oranchan/Meme/internal/domain"
	"github.com/oranchan/Meme/internal/engine"
	"github.com/oranchan/Meme/internal/fees"
	"github.com/oranchan/Meme/internal/infra"
	"github.com/oranchan/Meme/internal/inspect"
	"github.com/oranchan/Meme/internal/ledger"
	"github.com/oranchan/Meme/internal/limiter"
	"github.com/oranchan/Meme/internal/registry"
	"github.com/oranchan/Meme/internal/storage"
)

// Bootstrap orchestrates the startup sequence: config, logging, storage,
// state recovery (or first-run seeding), engine wiring, and the inspection
// server.
type Bootstrap struct {
	Config    *infra.Config
	Journal   *storage.Journal
	Snapshots *storage.SnapshotManager

	Book     *ledger.Book
	Registry *registry.Registry
	Limiter  *limiter.RateWindowLimiter
	Alloc    *fees.Allocator
	Engine   *engine.Orchestrator
	Inspect  *inspect.Server
}

// NewBootstrap creates an empty Bootstrap.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize builds and recovers the whole system from the config at path.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("Bootstrapping",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version))

	if err := infra.EnsureDir(cfg.Storage.DataDir); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	journal, err := storage.NewJournal(filepath.Join(cfg.Storage.DataDir, "transfers.db"))
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	b.Journal = journal
	b.Snapshots = storage.NewSnapshotManager(filepath.Join(cfg.Storage.DataDir, "snapshots"))

	b.Book = ledger.NewBook()
	b.Registry = registry.New(domain.Address(cfg.Token.Controller))
	b.Alloc = fees.NewAllocator()

	// Static caps derive from the configured supply once, here, and are
	// never recomputed — later mints do not move them.
	b.Limiter = limiter.New(limiter.LimitsFromSupply(domain.Units(cfg.Token.TotalSupply)), b.Book)

	b.Engine = engine.NewOrchestrator(
		b.Book, b.Registry, b.Limiter, b.Alloc,
		domain.Address(cfg.Token.FeeCollector),
		b.Journal,
		nil,
	)

	// The feed callback is wired after construction: the server needs the
	// engine for its state endpoints.
	b.Inspect = inspect.NewServer(cfg.Inspect.Addr, b.Engine, b.Book, b.Limiter, b.Alloc)
	b.Engine.SetOnApplied(b.Inspect.Publish)

	if err := b.seedRegistries(); err != nil {
		return err
	}
	return b.recoverOrSeed(ctx)
}

func (b *Bootstrap) seedRegistries() error {
	controller := b.Registry.Controller()
	for _, venue := range b.Config.Token.MarketVenues {
		if err := b.Registry.SetMarketVenue(controller, domain.Address(venue), true); err != nil {
			return fmt.Errorf("failed to seed market venue %s: %w", venue, err)
		}
	}
	for _, acct := range b.Config.Token.Exempt {
		if err := b.Registry.SetExempt(controller, domain.Address(acct), true); err != nil {
			return fmt.Errorf("failed to seed exemption %s: %w", acct, err)
		}
	}
	return nil
}

// recoverOrSeed restores the latest snapshot if one exists, otherwise mints
// the configured supply to the treasury through the engine's own mint path.
// Either way the applied counter resumes past the journal's highest
// sequence: a crash between snapshots leaves journal rows whose balance
// effects the snapshot does not carry, and their sequence numbers must
// never be reissued.
func (b *Bootstrap) recoverOrSeed(ctx context.Context) error {
	snap, err := b.Snapshots.LoadLatest()
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	lastSeq, err := b.Journal.LastSeq(ctx)
	if err != nil {
		return fmt.Errorf("failed to read journal sequence: %w", err)
	}

	if snap != nil {
		b.Book.Restore(snap.Balances, snap.Supply)
		b.Limiter.Restore(snap.Windows)
		b.Alloc.Restore(snap.Buckets)

		applied := snap.Seq
		if lastSeq > applied {
			applied = lastSeq
			slog.Warn("Journal ahead of snapshot; resuming sequence after journal",
				slog.Uint64("snapshot_seq", snap.Seq),
				slog.Uint64("journal_seq", lastSeq))
		}
		b.Engine.RestoreCounters(snap.LastFee, applied)
		slog.Info("State recovered from snapshot",
			slog.Uint64("seq", applied),
			slog.Int64("supply", int64(snap.Supply)))
		return nil
	}

	if lastSeq > 0 {
		// Snapshots gone but the journal survived. The balances cannot be
		// reconstructed, but the spent sequence numbers still must not be
		// reused.
		b.Engine.RestoreCounters(0, lastSeq)
		slog.Warn("No snapshot found; resuming sequence after journal",
			slog.Uint64("journal_seq", lastSeq))
	}

	req := domain.NewRequest(domain.ZeroAddress, domain.Address(b.Config.Token.Treasury),
		domain.Units(b.Config.Token.TotalSupply))
	if _, err := b.Engine.Transfer(ctx, req); err != nil {
		return fmt.Errorf("failed to seed treasury: %w", err)
	}
	slog.Info("Treasury seeded",
		slog.String("treasury", b.Config.Token.Treasury),
		slog.Int64("supply", b.Config.Token.TotalSupply))
	return nil
}

// TakeSnapshot captures the current state and prunes old snapshots. The
// capture goes through the engine's operation lock, so a snapshot taken
// while transfers are in flight never contains a half-applied one.
func (b *Bootstrap) TakeSnapshot() error {
	b.Book.VerifyConservation()

	st := b.Engine.Capture()
	snap := &storage.Snapshot{
		Seq:      st.Seq,
		TsUnix:   st.TsUnix,
		Supply:   st.Supply,
		Balances: st.Balances,
		Windows:  st.Windows,
		Buckets:  st.Buckets,
		LastFee:  st.LastFee,
	}
	if err := b.Snapshots.Save(snap); err != nil {
		return err
	}
	return b.Snapshots.Cleanup(b.Config.Storage.SnapshotKeep)
}

// Close releases held resources.
func (b *Bootstrap) Close() {
	if b.Journal != nil {
		if err := b.Journal.Close(); err != nil {
			slog.Warn("Failed to close journal", slog.Any("error", err))
		}
	}
}
