package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hydrahook/hydrahook/internal/config"
	"github.com/hydrahook/hydrahook/internal/crash"
	"github.com/hydrahook/hydrahook/internal/winutil"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "hydractl",
	Short: "HydraHook diagnostics tool",
	Long:  `hydractl inspects and validates HydraHook engine configuration and queries live engines over the diagnostics pipe`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hydractl v%s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		printConfig()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.Save(config.Default(), cfgFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Default configuration written")
	},
}

var resolveDumpDirCmd = &cobra.Command{
	Use:   "resolve-dump-dir",
	Short: "Show where crash dumps would be written for the current configuration",
	Run: func(cmd *cobra.Command, args []string) {
		resolveDumpDir()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the HydraHook directory under ProgramData)")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(resolveDumpDirCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(journalCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "warning: %v\n", e)
		}
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(out)
}

func resolveDumpDir() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	processDir := ""
	if exe, err := os.Executable(); err == nil {
		processDir = filepath.Dir(exe) + string(filepath.Separator)
	}
	dir := crash.ResolveDumpDir(cfg.CrashHandler.DumpDirectory, processDir, "", os.TempDir())
	fmt.Printf("Dump directory: %s\n", dir)

	id := winutil.CurrentProcessIdentity()
	base := strings.TrimSuffix(id.Name, filepath.Ext(id.Name))
	fmt.Printf("Example file:   %s\n", crash.DumpFileName(base, id.PID, time.Now(), crash.CodeAccessViolation))
}
