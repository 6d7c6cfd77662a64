package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relsync/relsync/internal/config"
	"github.com/relsync/relsync/internal/manifest"
	"github.com/relsync/relsync/internal/profiles"
	"github.com/relsync/relsync/internal/querystore"
	"github.com/relsync/relsync/internal/rdb"
	"github.com/relsync/relsync/internal/schema"
	"github.com/relsync/relsync/internal/schemagraph"
	"github.com/relsync/relsync/internal/syncer"
	"github.com/relsync/relsync/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "relsync",
	Short: "Schema-driven manifest synchronization for relational databases",
	Long:  `A CLI to build relational databases from a declared schema, populate and update their tables from manifest sources, and publish query results.`,
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Create the schema's tables and populate them from manifests",
	RunE:  runBuild,
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Repopulate the existing tables from manifests",
	RunE:  runUpdate,
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run the queries in a CSV file and store their results",
	RunE:  runQuery,
}

var dropCmd = &cobra.Command{
	Use:   "drop [table]",
	Short: "Drop a table, or every table when none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDrop,
}

var listTablesCmd = &cobra.Command{
	Use:   "list-tables",
	Short: "List the tables present in the database",
	RunE:  runListTables,
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage saved configurations",
}

var profileSaveCmd = &cobra.Command{
	Use:   "save [alias]",
	Short: "Save the current configuration under an alias",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProfileSave,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved configurations",
	RunE:  runProfileList,
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <alias>",
	Short: "Delete a saved configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileDelete,
}

var (
	configPath string
	profileRef string
	schemaPath string
	queryPath  string
	profileDir string
	cascade    bool
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&profileRef, "profile", "", "Name of a saved configuration to use")
	rootCmd.PersistentFlags().StringVar(&profileDir, "profile-dir", "", "Directory holding saved configurations")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")

	buildCmd.Flags().StringVar(&schemaPath, "schema", "", "Path to the database schema file")
	updateCmd.Flags().StringVar(&schemaPath, "schema", "", "Path to the database schema file")

	queryCmd.Flags().StringVar(&queryPath, "queries", "", "Path to the CSV file listing queries and result table names")
	queryCmd.MarkFlagRequired("queries")

	dropCmd.Flags().BoolVar(&cascade, "cascade", false, "Also drop the tables that depend on the given table")

	profileCmd.AddCommand(profileSaveCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileDeleteCmd)

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(dropCmd)
	rootCmd.AddCommand(listTablesCmd)
	rootCmd.AddCommand(profileCmd)

	cobra.OnInitialize(func() {
		rootCmd.SilenceUsage = true
		rootCmd.SilenceErrors = true
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig resolves the run configuration from --config or --profile.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfig(configPath)
	}
	if profileRef != "" {
		return profiles.NewManager(profileDir).Load(profileRef)
	}
	return nil, fmt.Errorf("either --config or --profile is required")
}

// openDatabase connects to the configured target backend.
func openDatabase(ctx context.Context, cfg *config.Config, log *logger.Logger) (rdb.RelationalDatabase, error) {
	switch cfg.Database.Type {
	case "postgres":
		return rdb.OpenPostgres(ctx, rdb.PostgresConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		}, log)
	case "mysql":
		return rdb.OpenMySQL(ctx, rdb.MySQLConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
		}, log)
	case "sqlite":
		return rdb.OpenSQLite(ctx, rdb.SQLiteConfig{Path: cfg.Database.Path}, log)
	case "mongo":
		return rdb.OpenDocument(ctx, rdb.DocumentConfig{
			URI:      cfg.GetMongoURI(),
			Database: cfg.Database.Database,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
}

// openSource connects to the configured manifest source, wrapping it with the
// metadata cache when one is enabled.
func openSource(ctx context.Context, cfg *config.Config) (manifest.Source, io.Closer, error) {
	var source manifest.Source
	var closer io.Closer

	switch cfg.Manifests.Type {
	case "csv":
		source = manifest.NewCSVStore(cfg.Manifests.Dir)
	case "mongo":
		store, err := manifest.NewMongoStore(ctx, manifest.MongoStoreConfig{
			URI:      cfg.Manifests.URI,
			Database: cfg.Manifests.Database,
		})
		if err != nil {
			return nil, nil, err
		}
		source, closer = store, store
	default:
		return nil, nil, fmt.Errorf("unsupported manifest source type: %s", cfg.Manifests.Type)
	}

	if cfg.Cache.Enabled {
		cached, err := manifest.NewCachedSource(ctx, source, manifest.CacheConfig{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			if closer != nil {
				closer.Close()
			}
			return nil, nil, err
		}
		source = cached
		closer = multiCloser{cached, closer}
	}

	return source, closer, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func loadSchema(cfg *config.Config) (schema.DatabaseSchema, error) {
	path := schemaPath
	if path == "" {
		path = cfg.SchemaFile
	}
	if path == "" {
		return schema.DatabaseSchema{}, fmt.Errorf("a schema file is required, set --schema or schema_file in the config")
	}
	return schema.LoadDatabaseSchema(path)
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	log := logger.NewLogger(verbose)

	db, err := loadSchema(cfg)
	if err != nil {
		return fmt.Errorf("cannot load schema: %w", err)
	}

	ctx := cmd.Context()
	database, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer database.Close()

	source, closer, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	report, err := syncer.NewBuilder(database, source, db, log).WithProgress().Build(ctx)
	printReport(report)
	return err
}

func runUpdate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	log := logger.NewLogger(verbose)

	db, err := loadSchema(cfg)
	if err != nil {
		return fmt.Errorf("cannot load schema: %w", err)
	}

	ctx := cmd.Context()
	database, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer database.Close()

	source, closer, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	provider := schemagraph.NewSchemaProvider(db)
	report, err := syncer.NewUpdater(database, source, provider, log).WithProgress().Update(ctx)
	printReport(report)
	return err
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	log := logger.NewLogger(verbose)

	ctx := cmd.Context()
	database, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer database.Close()

	store, err := querystore.NewMongoQueryStore(ctx, querystore.MongoQueryStoreConfig{
		URI:      cfg.Manifests.URI,
		Database: cfg.Manifests.Database,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	return querystore.NewQueryer(database, store, log).StoreQueryResults(ctx, queryPath)
}

func runDrop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	log := logger.NewLogger(verbose)

	ctx := cmd.Context()
	database, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer database.Close()

	if len(args) == 0 {
		return database.DropAllTables(ctx)
	}
	if cascade {
		return database.DropTableAndDependents(ctx, args[0])
	}
	return database.DropTable(ctx, args[0])
}

func runListTables(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	log := logger.NewLogger(verbose)

	ctx := cmd.Context()
	database, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer database.Close()

	names, err := database.TableNames(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runProfileSave(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}

	alias := ""
	if len(args) > 0 {
		alias = args[0]
	}
	profile, err := profiles.NewManager(profileDir).Save(alias, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("saved profile %s (%s)\n", profile.Name, profile.Path)
	return nil
}

func runProfileList(cmd *cobra.Command, args []string) error {
	list, err := profiles.NewManager(profileDir).List("")
	if err != nil {
		return err
	}
	for _, p := range list {
		fmt.Printf("%s\t%s\t%s\n", p.Name, p.Type, p.Path)
	}
	return nil
}

func runProfileDelete(cmd *cobra.Command, args []string) error {
	return profiles.NewManager(profileDir).Delete(args[0])
}

func printReport(report *syncer.RunReport) {
	if report == nil {
		return
	}
	for _, name := range report.Order {
		fmt.Printf("%-30s %s\n", name, report.State(name))
	}
	for _, notice := range report.Notices {
		fmt.Printf("notice: %s: %s\n", notice.Table, notice.Message)
	}
}
