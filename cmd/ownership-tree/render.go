package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ownership-engine/pkg/logging"
	"github.com/ekaya-inc/ownership-engine/pkg/models"
	"github.com/ekaya-inc/ownership-engine/pkg/repositories"
	"github.com/ekaya-inc/ownership-engine/pkg/services"
)

const defaultRenderDepth = 10

type renderOptions struct {
	fixture  string
	root     string
	depth    int
	logLevel string
}

func newRenderCmd() *cobra.Command {
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Expand an entity's owners breadth first and print the tree",
		Example: `  ownership-tree render --fixture testdata/harbor_point.yaml --root ENT-100
  ownership-tree render --fixture graph.yaml --root 6f1c2a3e-... --depth 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.fixture, "fixture", "", "YAML fixture with entities, borrowers and edges")
	cmd.Flags().StringVar(&opts.root, "root", "", "root entity display id or uuid")
	cmd.Flags().IntVar(&opts.depth, "depth", defaultRenderDepth, "maximum expansion depth")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "log level")
	_ = cmd.MarkFlagRequired("fixture")
	_ = cmd.MarkFlagRequired("root")
	return cmd
}

func runRender(ctx context.Context, out io.Writer, opts *renderOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.depth < 1 {
		return fmt.Errorf("depth must be at least 1, got %d", opts.depth)
	}

	logger, err := logging.NewLogger("local", opts.logLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	f, err := os.Open(opts.fixture)
	if err != nil {
		return fmt.Errorf("failed to open fixture: %w", err)
	}
	defer f.Close()

	store, err := repositories.LoadMemoryFixture(f)
	if err != nil {
		return err
	}

	rootID, err := resolveRoot(store, opts.root)
	if err != nil {
		return err
	}

	aggregator := services.NewOwnershipAggregator(store, store, store.Borrowers(), nil, logger)
	session := services.NewOwnershipSession(uuid.New(), uuid.Nil, aggregator, nil, logger)

	if err := expandBreadthFirst(ctx, session, rootID, opts.depth); err != nil {
		return err
	}

	tree := services.BuildTree(session, rootID)
	printTree(out, tree)
	return nil
}

// resolveRoot accepts a uuid or a display id known to the store.
func resolveRoot(store *repositories.MemoryRecordStore, root string) (uuid.UUID, error) {
	if id, err := uuid.Parse(root); err == nil {
		return id, nil
	}
	entity, ok := store.FindEntityByDisplayID(root)
	if !ok {
		return uuid.Nil, fmt.Errorf("no entity with display id %q in fixture", root)
	}
	return entity.ID, nil
}

type expandItem struct {
	id    uuid.UUID
	path  models.AncestorPath
	depth int
}

// expandBreadthFirst expands every reachable entity down to maxDepth levels below root, then
// loads the detail records of every linked owner seen.
func expandBreadthFirst(ctx context.Context, session *services.OwnershipSession, rootID uuid.UUID, maxDepth int) error {
	var entityIDs, borrowerIDs []uuid.UUID
	seen := map[uuid.UUID]bool{rootID: true}
	entityIDs = append(entityIDs, rootID)

	queue := []expandItem{{id: rootID, path: models.NewAncestorPath()}}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		result := session.Expand(ctx, item.id, item.path)
		if result.Status != models.ExpansionLoaded {
			continue
		}
		for _, view := range result.Owners {
			if id, ok := view.Edge.Target.BorrowerID(); ok && !seen[id] && !view.Dangling {
				seen[id] = true
				borrowerIDs = append(borrowerIDs, id)
			}
			if !view.Expandable() {
				continue
			}
			id := view.Edge.Target.ID()
			if !seen[id] {
				seen[id] = true
				entityIDs = append(entityIDs, id)
			}
			if item.depth+1 < maxDepth && !result.ChildPath.Contains(id) {
				queue = append(queue, expandItem{id: id, path: result.ChildPath, depth: item.depth + 1})
			}
		}
	}

	if err := session.LoadDetails(ctx, entityIDs, borrowerIDs); err != nil {
		return fmt.Errorf("failed to load owner details: %w", err)
	}
	return nil
}

func printTree(out io.Writer, tree *services.OwnershipTreeNode) {
	tree.Walk(func(node *services.OwnershipTreeNode, depth int) {
		fmt.Fprintln(out, strings.Repeat("  ", depth)+formatNode(node))
	})
}

// formatNode renders one line: display id, name, stake, title and markers.
func formatNode(node *services.OwnershipTreeNode) string {
	var b strings.Builder
	if node.Identity.DisplayID != "" {
		b.WriteString(node.Identity.DisplayID)
		b.WriteString(" ")
	}
	b.WriteString(node.Identity.Name)
	if node.OwnershipPercent != nil {
		b.WriteString(" ")
		b.WriteString(strconv.FormatFloat(*node.OwnershipPercent, 'f', -1, 64))
		b.WriteString("%")
	}
	if node.Title != "" {
		b.WriteString(" (")
		b.WriteString(node.Title)
		b.WriteString(")")
	}
	if len(node.Markers) > 0 {
		markers := make([]string, len(node.Markers))
		for i, m := range node.Markers {
			markers[i] = string(m)
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(markers, ","))
		b.WriteString("]")
	}
	return b.String()
}
