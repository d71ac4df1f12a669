package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memri/memri-go/defaults"
	"github.com/memri/memri-go/internal/cvu"
)

var checkCmd = &cobra.Command{
	Use:   "check [files or directories]",
	Short: "Parse CVU files and report errors",
	Long: `Parses the given .cvu files (or every .cvu file in the given
directories) and reports syntax errors. Without arguments it checks the
bundled default definitions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return checkBundled(cmd)
		}

		failed := 0
		for _, arg := range args {
			paths, err := collectCVU(arg)
			if err != nil {
				return err
			}
			for _, path := range paths {
				if !checkFile(cmd, path) {
					failed++
				}
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d file(s) with errors", failed)
		}
		return nil
	},
}

func checkBundled(cmd *cobra.Command) error {
	names, srcs, err := defaults.Files()
	if err != nil {
		return err
	}
	for _, name := range names {
		defs, errs := cvu.ParseString(srcs[name], cvu.DomainDefaults)
		if len(errs) > 0 {
			return fmt.Errorf("bundled %s: %w", name, errs[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d definition(s) ok\n", name, len(defs))
	}
	return nil
}

func collectCVU(arg string) ([]string, error) {
	info, err := os.Stat(arg)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{arg}, nil
	}
	entries, err := os.ReadDir(arg)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".cvu") {
			paths = append(paths, filepath.Join(arg, e.Name()))
		}
	}
	return paths, nil
}

func checkFile(cmd *cobra.Command, path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
		return false
	}
	defs, errs := cvu.ParseString(string(data), cvu.DomainUser)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, e)
		}
		return false
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d definition(s) ok\n", path, len(defs))
	return true
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
