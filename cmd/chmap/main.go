// Command chmap maps sampled Kafka events onto a ClickHouse table schema
// and validates the result, without running the wizard daemon.
//
// It reads a destination schema (from a JSON file or live from a
// ClickHouse server), one or two sampled event files, runs auto-mapping,
// and prints the resulting mapping configuration as JSON together with a
// human-readable validation verdict on stderr.
//
// Exit codes:
//   - 0: mapping is clean or carries only warnings
//   - 1: validation produced a blocking verdict
//   - 2: usage error
//
// This makes the command usable as a CI gate: pipe in the schema and a
// captured event, and a blocking mapping fails the build.
//
// # Schema sources
//
// Exactly one of the following must be provided:
//
//   - -schema "<path>"      JSON array of column objects
//     [{"name":"id","type":"UInt64","nullable":false,"default_kind":"","is_key":true}, ...]
//   - -ch-addr + -table     fetch the schema live from system.columns
//
// Precedence is strict: when both are given, -schema wins and the server
// is not contacted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"chmap/internal/mapping"
	"chmap/internal/provider/clickhouse"
	"chmap/internal/storage"
	"chmap/internal/validate"
)

func main() {
	var (
		// flagSchema is a path to a JSON file holding the destination
		// column list. Takes precedence over a live fetch.
		flagSchema = flag.String("schema", "", "Path to destination schema JSON (array of columns)")

		// Live schema fetch. Used only when -schema is empty.
		flagCHAddr     = flag.String("ch-addr", "", "ClickHouse native address, e.g. localhost:9000")
		flagCHDatabase = flag.String("ch-database", "default", "ClickHouse database")
		flagCHUser     = flag.String("ch-user", "default", "ClickHouse username")
		flagCHPassword = flag.String("ch-password", "", "ClickHouse password (or CLICKHOUSE_PASSWORD env)")
		flagTable      = flag.String("table", "", "Destination table (required with -ch-addr)")

		// flagEvent is the primary sampled event; flagRightEvent enables
		// dual-source mode with the primary taking match precedence.
		flagEvent      = flag.String("event", "", "Path to the sampled event JSON (primary source)")
		flagRightEvent = flag.String("right-event", "", "Path to a second sampled event JSON (secondary source)")

		// Topic tags recorded into the emitted mapping rows. Only
		// meaningful in dual-source mode.
		flagTopic      = flag.String("topic", "left", "Topic tag of the primary source")
		flagRightTopic = flag.String("right-topic", "right", "Topic tag of the secondary source")

		flagPretty = flag.Bool("pretty", true, "Pretty-print JSON output")
	)
	flag.Parse()

	if strings.TrimSpace(*flagEvent) == "" {
		fmt.Fprintln(os.Stderr, "missing -event")
		flag.Usage()
		os.Exit(2)
	}
	if strings.TrimSpace(*flagSchema) == "" && strings.TrimSpace(*flagCHAddr) == "" {
		fmt.Fprintln(os.Stderr, "need -schema or -ch-addr")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	columns, err := loadColumns(ctx, *flagSchema, *flagCHAddr, *flagCHDatabase, *flagCHUser, *flagCHPassword, *flagTable)
	if err != nil {
		log.Fatalf("schema: %v", err)
	}

	sources, err := loadSources(*flagEvent, *flagRightEvent, *flagTopic, *flagRightTopic)
	if err != nil {
		log.Fatalf("events: %v", err)
	}

	set, _ := mapping.AutoMap(mapping.InitFromSchema(columns), sources)
	report := validate.Validate(set, unionPaths(sources))

	printMapping(set, *flagPretty)
	printVerdict(report)

	if report.Verdict.Blocking {
		os.Exit(1)
	}
}

// loadColumns reads the destination schema from a file, or live from
// ClickHouse when no file is given. CLICKHOUSE_PASSWORD overrides the
// flag so passwords need not appear in shell history.
func loadColumns(ctx context.Context, schemaPath, addr, database, user, password, table string) ([]mapping.DestinationColumn, error) {
	if schemaPath != "" {
		raw, err := os.ReadFile(schemaPath)
		if err != nil {
			return nil, err
		}
		var columns []mapping.DestinationColumn
		if err := json.Unmarshal(raw, &columns); err != nil {
			return nil, fmt.Errorf("parse %s: %w", schemaPath, err)
		}
		if len(columns) == 0 {
			return nil, fmt.Errorf("%s holds no columns", schemaPath)
		}
		return columns, nil
	}

	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("missing -table for live schema fetch")
	}
	if env := os.Getenv("CLICKHOUSE_PASSWORD"); env != "" {
		password = env
	}

	provider, err := clickhouse.New(ctx, clickhouse.Options{
		Addr:     addr,
		Database: database,
		Username: user,
		Password: password,
	})
	if err != nil {
		return nil, err
	}
	defer provider.Close()

	columns, err := provider.Columns(ctx, database, table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s.%s not found or has no columns", database, table)
	}
	return columns, nil
}

func loadSources(eventPath, rightEventPath, topic, rightTopic string) ([]mapping.Source, error) {
	primary, err := os.ReadFile(eventPath)
	if err != nil {
		return nil, err
	}
	sources := []mapping.Source{{Topic: topic, Event: primary}}

	if strings.TrimSpace(rightEventPath) != "" {
		secondary, err := os.ReadFile(rightEventPath)
		if err != nil {
			return nil, err
		}
		sources = append(sources, mapping.Source{Topic: rightTopic, Event: secondary})
	}
	return sources, nil
}

func unionPaths(sources []mapping.Source) []string {
	var paths []string
	seen := make(map[string]bool)
	for _, src := range sources {
		for _, p := range src.Paths() {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	return paths
}

// printMapping emits the persisted row shape, so the output can feed the
// same configuration consumers as the daemon's store.
func printMapping(set mapping.Set, pretty bool) {
	recs := storage.RecordsFromSet(set)

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(recs); err != nil {
		log.Fatalf("encode mapping: %v", err)
	}
}

func printVerdict(report validate.Report) {
	v := report.Verdict
	switch {
	case v.Category == validate.CategoryNone:
		fmt.Fprintln(os.Stderr, "validation: clean")
	case v.Blocking:
		fmt.Fprintf(os.Stderr, "validation: BLOCKING %s: %s\n", v.Category, strings.Join(v.AffectedNames, ", "))
	default:
		fmt.Fprintf(os.Stderr, "validation: warning %s: %s\n", v.Category, strings.Join(v.AffectedNames, ", "))
	}
}
