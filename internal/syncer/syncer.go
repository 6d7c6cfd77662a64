// Package syncer drives the build and update passes: tables are processed
// strictly in dependency order, one at a time, and the pass stops at the
// first failed table so no orphaned foreign key references are written.
package syncer

import (
	"context"
	"fmt"

	"github.com/relsync/relsync/internal/depgraph"
	"github.com/relsync/relsync/internal/manifest"
	"github.com/relsync/relsync/internal/normalize"
	"github.com/relsync/relsync/internal/rdb"
	"github.com/relsync/relsync/internal/schema"
	"github.com/relsync/relsync/internal/schemagraph"
	"github.com/relsync/relsync/internal/table"
	"github.com/relsync/relsync/internal/upsert"
	"github.com/relsync/relsync/pkg/logger"
	"github.com/relsync/relsync/pkg/progress"
)

// Builder creates the tables of a database schema in dependency order and
// populates each from its manifests.
type Builder struct {
	rdb          rdb.RelationalDatabase
	source       manifest.Source
	db           schema.DatabaseSchema
	log          *logger.Logger
	showProgress bool
}

func NewBuilder(database rdb.RelationalDatabase, source manifest.Source, db schema.DatabaseSchema, log *logger.Logger) *Builder {
	return &Builder{rdb: database, source: source, db: db, log: log}
}

// WithProgress enables the terminal progress bar over the table list.
func (b *Builder) WithProgress() *Builder {
	b.showProgress = true
	return b
}

// Build runs the full pass. The returned report is always non-nil and
// reflects whatever was processed before an error.
func (b *Builder) Build(ctx context.Context) (*RunReport, error) {
	order, err := depgraph.BuildOrder(b.db)
	if err != nil {
		return newRunReport(nil), err
	}
	report := newRunReport(order)
	b.log.Infof("Building %d tables", len(order))

	var bar *progress.Bar
	if b.showProgress {
		bar = progress.NewBar(len(order), "building")
		defer bar.Finish()
	}

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ts, ok := b.db.Table(name)
		if !ok {
			// table referenced by an edge but absent from the schema
			report.setState(name, StateFailed)
			return report, fmt.Errorf("table %q is not part of the database schema", name)
		}
		if err := b.ensureSchema(ctx, ts, report); err != nil {
			report.setState(name, StateFailed)
			return report, fmt.Errorf("table %q: %w", name, err)
		}
		report.setState(name, StateSchemaEnsured)

		if err := populate(ctx, b.rdb, b.source, ts, report, b.log); err != nil {
			report.setState(name, StateFailed)
			return report, fmt.Errorf("table %q: %w", name, err)
		}
		bar.Increment()
	}
	return report, nil
}

// ensureSchema creates the table when missing. When it already exists the
// live schema is compared against the expected one; drift is reported, never
// migrated.
func (b *Builder) ensureSchema(ctx context.Context, ts schema.TableSchema, report *RunReport) error {
	names, err := b.rdb.TableNames(ctx)
	if err != nil {
		return err
	}
	for _, existing := range names {
		if existing != ts.Name() {
			continue
		}
		current, err := b.rdb.TableSchema(ctx, ts.Name())
		if err != nil {
			return err
		}
		if !current.Equivalent(ts) {
			b.log.WithTable(ts.Name()).Warn("existing table schema differs from the expected schema")
			report.addNotice(NoticeSchemaDrift, ts.Name(),
				"existing table schema differs from the expected schema")
		}
		return nil
	}

	b.log.WithTable(ts.Name()).Info("creating table")
	return b.rdb.AddTable(ctx, ts)
}

// Updater repopulates already-built tables in dependency order, taking the
// live table schemas from the backend and the order from a dependency edge
// provider.
type Updater struct {
	rdb          rdb.RelationalDatabase
	source       manifest.Source
	provider     schemagraph.Provider
	log          *logger.Logger
	showProgress bool
}

func NewUpdater(database rdb.RelationalDatabase, source manifest.Source, provider schemagraph.Provider, log *logger.Logger) *Updater {
	return &Updater{rdb: database, source: source, provider: provider, log: log}
}

func (u *Updater) WithProgress() *Updater {
	u.showProgress = true
	return u
}

// Update runs the populate pass over every table present in the backend.
func (u *Updater) Update(ctx context.Context) (*RunReport, error) {
	names, err := u.rdb.TableNames(ctx)
	if err != nil {
		return newRunReport(nil), err
	}
	order, err := schemagraph.SortedTableNames(ctx, u.provider, names)
	if err != nil {
		return newRunReport(nil), err
	}
	report := newRunReport(order)
	u.log.Infof("Updating %d tables", len(order))

	var bar *progress.Bar
	if u.showProgress {
		bar = progress.NewBar(len(order), "updating")
		defer bar.Finish()
	}

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ts, err := u.rdb.TableSchema(ctx, name)
		if err != nil {
			report.setState(name, StateFailed)
			return report, fmt.Errorf("table %q: %w", name, err)
		}
		report.setState(name, StateSchemaEnsured)

		if err := populate(ctx, u.rdb, u.source, ts, report, u.log); err != nil {
			report.setState(name, StateFailed)
			return report, fmt.Errorf("table %q: %w", name, err)
		}
		bar.Increment()
	}
	return report, nil
}

// populate is the shared fetch-normalize-merge step. Zero manifests is an
// explicit skip, not an error; everything else fatal for the run.
func populate(
	ctx context.Context,
	database rdb.RelationalDatabase,
	source manifest.Source,
	ts schema.TableSchema,
	report *RunReport,
	log *logger.Logger,
) error {
	name := ts.Name()

	ids, err := source.ManifestIDs(ctx, name)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		log.WithTable(name).Warn("no manifests found, skipping")
		report.addNotice(NoticeNoManifests, name, "no manifests found")
		report.setState(name, StateSkippedNoSource)
		return nil
	}

	manifests := make([]table.Table, 0, len(ids))
	for _, id := range ids {
		raw, err := source.DownloadManifest(ctx, id)
		if err != nil {
			return err
		}
		manifests = append(manifests, raw)
	}

	normalized, err := normalize.Normalize(manifests, ts)
	if err != nil {
		return err
	}

	existing, err := database.QueryTable(ctx, name)
	if err != nil {
		return err
	}
	plan, err := upsert.Partition(existing, normalized, ts.PrimaryKey())
	if err != nil {
		return err
	}
	report.setState(name, StatePopulated)

	if plan.Empty() {
		log.WithTable(name).Debugf("table is up to date (%d rows unchanged)", plan.Unchanged.NumRows())
		report.setState(name, StateDone)
		return nil
	}

	if err := database.InsertRows(ctx, name, plan.Inserts); err != nil {
		return err
	}
	if err := database.UpsertRows(ctx, name, plan.Updates); err != nil {
		return err
	}
	log.WithTable(name).Infof(
		"synced table: %d inserted, %d updated, %d unchanged",
		plan.Inserts.NumRows(), plan.Updates.NumRows(), plan.Unchanged.NumRows(),
	)
	report.setState(name, StateDone)
	return nil
}
