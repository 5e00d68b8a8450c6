package policy

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lattice-hq/lattice/pkg/audit"
	"github.com/lattice-hq/lattice/pkg/events"
	"github.com/lattice-hq/lattice/pkg/observability"
)

// Installer applies table policies as Postgres row-security policies.
type Installer struct {
	db        *sql.DB
	recorder  *audit.Recorder
	publisher events.Publisher
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewInstaller creates a policy installer. recorder, publisher, and metrics
// may be nil.
func NewInstaller(db *sql.DB, recorder *audit.Recorder, publisher events.Publisher, logger *observability.Logger, metrics *observability.Metrics) *Installer {
	return &Installer{db: db, recorder: recorder, publisher: publisher, logger: logger, metrics: metrics}
}

// Install compiles and installs the policy on its table. Idempotent: any
// previously installed policy of the same name is dropped first, so a
// changed clause configuration fully replaces the old predicate instead of
// lingering beside it.
func (i *Installer) Install(ctx context.Context, p *TablePolicy) error {
	err := i.install(ctx, p)
	if i.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		i.metrics.PolicyInstallsTotal.WithLabelValues(p.Table, outcome).Inc()
	}
	if err != nil {
		return &InstallError{Table: p.Table, Err: err}
	}

	if i.recorder != nil {
		i.recorder.Record(ctx, audit.Entry{
			Action:   audit.ActionPolicyInstalled,
			TargetID: p.Table,
			Detail:   map[string]interface{}{"policy": PolicyName},
		})
	}
	if i.publisher != nil {
		if err := i.publisher.Publish(ctx, events.Event{
			Type:  events.TypePolicyInstalled,
			Table: p.Table,
		}); err != nil {
			i.logger.WithError(err).WithField("table", p.Table).
				Warn("Failed to publish policy install event")
		}
	}
	return nil
}

func (i *Installer) install(ctx context.Context, p *TablePolicy) error {
	predicate, err := p.Compile()
	if err != nil {
		return err
	}

	// FORCE applies the policy to the table owner too; without it an
	// owner-held connection reads every row unfiltered.
	statements := []string{
		fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", p.Table),
		fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", p.Table),
		fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", PolicyName, p.Table),
		fmt.Sprintf("CREATE POLICY %s ON %s USING (%s)", PolicyName, p.Table, predicate),
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, statement := range statements {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute %q: %w", statement, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	i.logger.WithField("table", p.Table).Info("Installed row security policy")
	return nil
}

// InstallAll installs every policy in the set, stopping at the first
// failure. Callers at bootstrap must treat an error as fatal; running with
// only part of the set enforced silently widens access.
func (i *Installer) InstallAll(ctx context.Context, set *Set) error {
	for idx := range set.Policies {
		if err := i.Install(ctx, &set.Policies[idx]); err != nil {
			return err
		}
	}
	return nil
}
