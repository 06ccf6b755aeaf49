// Package main provides the weave CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"weave/internal/config"
	"weave/internal/diff"
	"weave/internal/kernel"
	"weave/internal/node"
	"weave/internal/patch"
	"weave/internal/schedule"
	"weave/internal/session"
	"weave/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "weave",
	Short: "Weave - document diffing, patching and reactive execution",
	Long:  `Weave diffs structured documents into minimal patches, applies patches, and executes code nodes on language kernels in dependency order.`,
}

var diffCmd = &cobra.Command{
	Use:   "diff <old> <new>",
	Short: "Compute the patch turning one document into another",
	Args:  cobra.ExactArgs(2),
	RunE:  runDiff,
}

var applyCmd = &cobra.Command{
	Use:   "apply <doc> <patch>",
	Short: "Apply a patch to a document and print the result",
	Args:  cobra.ExactArgs(2),
	RunE:  runApply,
}

var mergeCmd = &cobra.Command{
	Use:   "merge <patch>...",
	Short: "Merge patches into one, in argument order",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMerge,
}

var compileCmd = &cobra.Command{
	Use:   "compile <doc>",
	Short: "Print the dependency graph of a document's code nodes",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompile,
}

var executeCmd = &cobra.Command{
	Use:   "execute <doc>",
	Short: "Execute a document's code nodes and print the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecute,
}

var kernelsCmd = &cobra.Command{
	Use:   "kernels",
	Short: "Kernel commands",
}

var kernelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured kernel types",
	RunE:  runKernelsList,
}

var (
	configPath string
	dataDir    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	executeCmd.Flags().StringVar(&dataDir, "data", "", "Record snapshots and executions under this directory")

	kernelsCmd.AddCommand(kernelsListCmd)
	rootCmd.AddCommand(diffCmd, applyCmd, mergeCmd, compileCmd, executeCmd, kernelsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// readDocument loads a document tree from a JSON or YAML file.
func readDocument(path string) (node.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return node.Node{}, fmt.Errorf("reading %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return node.FromYAML(data)
	default:
		return node.FromJSON(data)
	}
}

func readPatch(path string) (patch.Patch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return patch.Patch{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return patch.FromJSON(data)
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	old, err := readDocument(args[0])
	if err != nil {
		return err
	}
	new, err := readDocument(args[1])
	if err != nil {
		return err
	}
	return printJSON(diff.Diff(old, new))
}

func runApply(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}
	p, err := readPatch(args[1])
	if err != nil {
		return err
	}
	if err := patch.Apply(&doc, p); err != nil {
		return err
	}
	return printJSON(doc)
}

func runMerge(cmd *cobra.Command, args []string) error {
	patches := make([]patch.Patch, 0, len(args))
	for _, arg := range args {
		p, err := readPatch(arg)
		if err != nil {
			return err
		}
		patches = append(patches, p)
	}
	return printJSON(patch.Merge(patches...))
}

func runCompile(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}
	s := session.New("cli", nil, schedule.DefaultOptions(), nil)
	if _, err := s.Update(doc); err != nil {
		return err
	}
	if err := s.Compile(); err != nil {
		return err
	}
	g := s.Graph()
	for _, rel := range g.Relations() {
		from := g.Resource(rel.From)
		to := g.Resource(rel.To)
		fmt.Printf("%s -[%s]-> %s\n", from.ID, rel.Kind, to.ID)
	}
	order, err := g.TopoSort()
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(order))
	for _, i := range order {
		ids = append(ids, g.Resource(i).ID)
	}
	fmt.Printf("order: %s\n", strings.Join(ids, " "))
	return nil
}

func runExecute(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Kernels) == 0 {
		return fmt.Errorf("no kernels configured; pass --config")
	}

	var db *store.DB
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		db, err = store.Open(filepath.Join(dataDir, "weave.db"))
		if err != nil {
			return err
		}
		defer db.Close()
	}

	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}

	manager := kernel.NewManager(cfg.Kernels)
	defer manager.ShutdownAll()

	opts := schedule.Options{MaxConcurrency: cfg.MaxConcurrency}
	s := session.New("cli", manager, opts, db)
	if _, err := s.Update(doc); err != nil {
		return err
	}
	terminal, err := s.Execute(context.Background())
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(terminal))
	for id := range terminal {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("%-12s %s\n", terminal[id], id)
	}
	return printJSON(s.Root())
}

func runKernelsList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Kernels) == 0 {
		fmt.Println("no kernels configured")
		return nil
	}
	for _, k := range cfg.Kernels {
		fork := ""
		if k.Fork {
			fork = " (fork)"
		}
		fmt.Printf("%-12s languages=%s%s\n", k.Name, strings.Join(k.Languages, ","), fork)
	}
	return nil
}
