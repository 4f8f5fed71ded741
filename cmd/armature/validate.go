package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/armature-dev/armature/internal/config"
	"github.com/armature-dev/armature/loader"
	"github.com/armature-dev/armature/meta"
)

var validateConfigFile string

func init() {
	validateCmd.Flags().StringVar(&validateConfigFile, "config", "", "Path to armature.yml (default: armature.yml in the current directory)")
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate collection definitions",
	Long:  "Parse every definition file and cross-check references, keys, and roles without starting a server",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg *config.Config
		var err error
		if validateConfigFile != "" {
			cfg, err = config.LoadFile(validateConfigFile)
		} else {
			cfg, err = config.Load("")
		}
		if err != nil {
			return err
		}
		return runValidate(cfg.EntitiesDir)
	},
}

func runValidate(dir string) error {
	okColor := color.New(color.FgGreen)
	failColor := color.New(color.FgRed, color.Bold)
	infoColor := color.New(color.FgCyan)

	files, err := definitionFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no definition files in %s", dir)
	}

	b := meta.NewBuilder(nil)
	failures := 0
	for _, file := range files {
		def, err := loader.LoadFile(file)
		if err != nil {
			failColor.Printf("✗ %s\n", file)
			fmt.Printf("  %v\n", err)
			failures++
			continue
		}
		if err := b.Register(def); err != nil {
			failColor.Printf("✗ %s\n", file)
			fmt.Printf("  %v\n", err)
			failures++
			continue
		}
		okColor.Printf("✓ %s (%s)\n", file, def.Name)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d definition files failed", failures, len(files))
	}

	registry, err := b.Build()
	if err != nil {
		failColor.Println("✗ cross-collection validation failed")
		fmt.Printf("  %v\n", err)
		return fmt.Errorf("validation failed")
	}

	fmt.Println()
	infoColor.Printf("%d collections valid\n", registry.Count())
	for _, e := range registry.Entities() {
		fmt.Printf("  %-20s mode=%-10s fields=%d", e.Name, e.Ops.Mode().String(), len(e.Fields))
		if n := len(e.BackRefs()); n > 0 {
			fmt.Printf("  referenced-by=%d", n)
		}
		fmt.Println()
	}
	return nil
}

// definitionFiles lists the YAML files of a definitions directory in
// name order, matching the order serve registers them in.
func definitionFiles(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}
