// Command omsctl is the operator-facing CLI: branch lifecycle, merge
// planning/application, outbox requeue, consumer checkpoint reset, and
// manual compaction runs, each a thin wrapper over the same pkg/branch,
// pkg/merge, pkg/outbox, pkg/consumer, and pkg/coordinator facades omsd
// runs in-process. It opens its own short-lived connections per
// invocation rather than sharing a daemon's.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	_ "github.com/lib/pq"

	"github.com/ludia8888/oms-core/pkg/branch"
	"github.com/ludia8888/oms-core/pkg/config"
	"github.com/ludia8888/oms-core/pkg/consumer"
	"github.com/ludia8888/oms-core/pkg/merge"
	"github.com/ludia8888/oms-core/pkg/outbox"
	"github.com/ludia8888/oms-core/pkg/version"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "branch":
		return runBranchCmd(args[2:], stdout, stderr)
	case "merge":
		return runMergeCmd(args[2:], stdout, stderr)
	case "outbox":
		return runOutboxCmd(args[2:], stdout, stderr)
	case "consumer":
		return runConsumerCmd(args[2:], stdout, stderr)
	case "compact":
		return runCompactCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "omsctl - OMS core operator CLI")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  omsctl <command> [subcommand] [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  branch create|lock|archive   Manage branch lifecycle")
	fmt.Fprintln(w, "  merge plan|apply             Plan or apply a branch merge")
	fmt.Fprintln(w, "  outbox requeue <id>          Requeue a dead-lettered outbox envelope")
	fmt.Fprintln(w, "  consumer reset <id>          Reset a consumer's checkpoint")
	fmt.Fprintln(w, "  compact run --max-chain-length <n> [--dry-run]")
	fmt.Fprintln(w, "                               Run manual compaction over a branch/type")
	fmt.Fprintln(w, "  help                         Show this help")
}

func openStore() (*sql.DB, error) {
	cfg := config.Load()
	db, err := sql.Open("postgres", cfg.DocStoreDSN)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping document store: %w", err)
	}
	return db, nil
}

func runBranchCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: omsctl branch <create|lock|archive> [options]")
		return 2
	}

	db, err := openStore()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = db.Close() }()

	registry := branch.NewRegistry(branch.NewPostgresStore(db), version.NewPostgresStore(db), resourceTypeCatalog)
	ctx := context.Background()

	switch args[0] {
	case "create":
		cmd := flag.NewFlagSet("branch create", flag.ContinueOnError)
		cmd.SetOutput(stderr)
		var name, parent, createdBy string
		cmd.StringVar(&name, "name", "", "branch name (required)")
		cmd.StringVar(&parent, "parent", branch.Main, "parent branch")
		cmd.StringVar(&createdBy, "created-by", "omsctl", "actor recorded as creator")
		if err := cmd.Parse(args[1:]); err != nil {
			return 2
		}
		if name == "" {
			fmt.Fprintln(stderr, "Error: --name is required")
			return 2
		}
		b, err := registry.Create(ctx, name, parent, createdBy)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return printJSON(stdout, b)
	case "lock":
		return branchTransition(stdout, stderr, args[1:], registry.LockForMerge)
	case "archive":
		return branchTransition(stdout, stderr, args[1:], registry.Archive)
	default:
		fmt.Fprintf(stderr, "Unknown branch subcommand: %s\n", args[0])
		return 2
	}
}

func branchTransition(stdout, stderr io.Writer, args []string, transition func(ctx context.Context, name string) error) int {
	cmd := flag.NewFlagSet("branch", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var name string
	cmd.StringVar(&name, "name", "", "branch name (required)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if name == "" {
		fmt.Fprintln(stderr, "Error: --name is required")
		return 2
	}
	if err := transition(context.Background(), name); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "branch %q updated\n", name)
	return 0
}

func runMergeCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: omsctl merge <plan|apply> [options]")
		return 2
	}

	db, err := openStore()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = db.Close() }()

	registry := branch.NewRegistry(branch.NewPostgresStore(db), version.NewPostgresStore(db), resourceTypeCatalog)
	ctx := context.Background()

	cmd := flag.NewFlagSet("merge "+args[0], flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var source, target string
	cmd.StringVar(&source, "source", "", "source branch (required)")
	cmd.StringVar(&target, "target", "", "target branch (required)")
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}
	if source == "" || target == "" {
		fmt.Fprintln(stderr, "Error: --source and --target are required")
		return 2
	}

	diff, err := registry.BranchDiff(ctx, source, target)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	switch args[0] {
	case "plan":
		return printJSON(stdout, diff)
	case "apply":
		if len(diff.Changes) == 0 {
			fmt.Fprintln(stdout, "nothing to merge")
			return 0
		}
		if err := registry.LockForMerge(ctx, target); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer func() { _ = registry.Unlock(ctx, target) }()
		fmt.Fprintf(stdout, "merge of %d changed resources from %q into %q is ready; apply each via the coordinator\n",
			len(diff.Changes), source, target)
		return printJSON(stdout, diff)
	default:
		fmt.Fprintf(stderr, "Unknown merge subcommand: %s\n", args[0])
		return 2
	}
}

func runOutboxCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 || args[0] != "requeue" {
		fmt.Fprintln(stderr, "Usage: omsctl outbox requeue <event-id>")
		return 2
	}

	db, err := openStore()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = db.Close() }()

	store := outbox.NewPostgresStore(db)
	if err := store.Requeue(context.Background(), args[1]); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "outbox envelope %q requeued\n", args[1])
	return 0
}

func runConsumerCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 || args[0] != "reset" {
		fmt.Fprintln(stderr, "Usage: omsctl consumer reset <consumer-id>")
		return 2
	}

	db, err := openStore()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = db.Close() }()

	store := consumer.NewPostgresCheckpointStore(db)
	consumerID := args[1]
	if err := store.Save(context.Background(), consumer.State{ConsumerID: consumerID}); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "consumer %q checkpoint reset\n", consumerID)
	return 0
}

func runCompactCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "run" {
		fmt.Fprintln(stderr, "Usage: omsctl compact run --branch <b> --resource-type <t> --max-chain-length <n> [--dry-run]")
		return 2
	}

	cmd := flag.NewFlagSet("compact run", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var branchName, resourceType string
	var maxChainLength int
	var dryRun bool
	cmd.StringVar(&branchName, "branch", branch.Main, "branch to compact")
	cmd.StringVar(&resourceType, "resource-type", "", "resource type to compact (required)")
	cmd.IntVar(&maxChainLength, "max-chain-length", 100, "minimum linear chain length worth compacting")
	cmd.BoolVar(&dryRun, "dry-run", false, "report the compaction plan without writing it")
	if err := cmd.Parse(args[1:]); err != nil {
		return 2
	}
	if resourceType == "" {
		fmt.Fprintln(stderr, "Error: --resource-type is required")
		return 2
	}

	db, err := openStore()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	versionStore := version.NewPostgresStore(db)
	nodes, err := loadDAGNodes(ctx, versionStore, branchName, resourceType)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	compactor := merge.NewCompactor(maxChainLength)
	if dryRun {
		plan, err := compactor.Plan(ctx, nodes)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return printJSON(stdout, plan)
	}

	compactionStore := merge.NewPostgresCompactionStore(db)
	result, err := compactor.Compact(ctx, nodes, compactionStore.StoreCompactionFunc())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return printJSON(stdout, result)
}

func loadDAGNodes(ctx context.Context, store version.Store, branchName, resourceType string) ([]merge.CommitNode, error) {
	heads, err := store.Heads(ctx, branchName, resourceType)
	if err != nil {
		return nil, fmt.Errorf("load heads: %w", err)
	}
	var nodes []merge.CommitNode
	for resourceID := range heads {
		ref := version.Ref{ResourceType: resourceType, ResourceID: resourceID, Branch: branchName}
		records, err := store.List(ctx, ref, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("load chain for %s: %w", ref, err)
		}
		for _, rec := range records {
			nodes = append(nodes, merge.CommitNode{
				CommitID:     rec.CommitHash,
				ParentID:     rec.ParentCommitHash,
				ResourceType: resourceType,
				ResourceID:   resourceID,
				SchemaHash:   rec.ContentHash,
			})
		}
	}
	return nodes, nil
}

func printJSON(w io.Writer, v interface{}) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(w, err)
		return 1
	}
	fmt.Fprintln(w, string(data))
	return 0
}

var resourceTypeCatalog = []string{
	"object_type", "link_type", "property", "action_type",
	"struct_type", "semantic_type", "branch", "proposal",
}
