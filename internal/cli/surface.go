package cli

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// SurfaceManifest describes every visible gridctl command and flag, for
// shell completion generators and wrapper scripts.
type SurfaceManifest struct {
	CLI         string           `json:"cli" yaml:"cli"`
	GlobalFlags []SurfaceFlag    `json:"global_flags" yaml:"global_flags"`
	Commands    []SurfaceCommand `json:"commands" yaml:"commands"`
}

type SurfaceCommand struct {
	Name        string           `json:"name" yaml:"name"`
	Path        string           `json:"path" yaml:"path"`
	Usage       string           `json:"usage" yaml:"usage"`
	Short       string           `json:"short" yaml:"short"`
	Aliases     []string         `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Flags       []SurfaceFlag    `json:"flags,omitempty" yaml:"flags,omitempty"`
	Subcommands []SurfaceCommand `json:"subcommands,omitempty" yaml:"subcommands,omitempty"`
}

// SurfaceFlag uses pflag's own type names (string, bool, stringSlice, duration, uint64).
type SurfaceFlag struct {
	Name      string `json:"name" yaml:"name"`
	Shorthand string `json:"shorthand,omitempty" yaml:"shorthand,omitempty"`
	Type      string `json:"type" yaml:"type"`
	Default   string `json:"default,omitempty" yaml:"default,omitempty"`
	Usage     string `json:"usage" yaml:"usage"`
}

func init() {
	rootCmd.AddCommand(commandsCmd)
}

var commandsCmd = &cobra.Command{
	Use:    "commands",
	Short:  "Print the command tree (YAML, or JSON with --json)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manifest := describeSurface(rootCmd)
		if IsJSONOutput() {
			return WriteOutput(cmd.OutOrStdout(), manifest)
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(manifest); err != nil {
			return err
		}
		return enc.Close()
	},
}

// CommandSurfaceJSON returns the manifest of the gridctl command tree as indented JSON.
func CommandSurfaceJSON() ([]byte, error) {
	return json.MarshalIndent(describeSurface(rootCmd), "", "  ")
}

func describeSurface(root *cobra.Command) SurfaceManifest {
	return SurfaceManifest{
		CLI:         root.Name(),
		GlobalFlags: describeFlags(root.PersistentFlags()),
		Commands:    describeChildren(root),
	}
}

func describeChildren(parent *cobra.Command) []SurfaceCommand {
	var out []SurfaceCommand
	for _, c := range parent.Commands() {
		if c.Hidden || !c.IsAvailableCommand() {
			continue
		}
		out = append(out, SurfaceCommand{
			Name:        c.Name(),
			Path:        c.CommandPath(),
			Usage:       c.UseLine(),
			Short:       c.Short,
			Aliases:     c.Aliases,
			Flags:       describeFlags(c.LocalNonPersistentFlags()),
			Subcommands: describeChildren(c),
		})
	}
	slices.SortFunc(out, func(a, b SurfaceCommand) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// describeFlags skips help and hidden flags; VisitAll already walks in name order.
func describeFlags(fs *pflag.FlagSet) []SurfaceFlag {
	var out []SurfaceFlag
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Hidden || f.Name == "help" {
			return
		}
		def := f.DefValue
		if def == "[]" || def == "false" {
			def = ""
		}
		out = append(out, SurfaceFlag{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Type:      f.Value.Type(),
			Default:   def,
			Usage:     f.Usage,
		})
	})
	return out
}
