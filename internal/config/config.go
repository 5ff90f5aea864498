// Package config loads the file-driven engine configuration used by
// injected builds and by the hydractl tool. The embedding client can always
// bypass this and hand pkg/api.Config structs to Create directly.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/hydrahook/hydrahook/pkg/api"
)

type Config struct {
	Direct3D struct {
		HookD3D9  bool `mapstructure:"hook_d3d9"`
		HookD3D10 bool `mapstructure:"hook_d3d10"`
		HookD3D11 bool `mapstructure:"hook_d3d11"`
		HookD3D12 bool `mapstructure:"hook_d3d12"`
	} `mapstructure:"direct3d"`

	CoreAudio struct {
		HookCoreAudio bool `mapstructure:"hook_core_audio"`
	} `mapstructure:"core_audio"`

	Logging struct {
		Enabled  bool   `mapstructure:"enabled"`
		Level    string `mapstructure:"level"`
		FilePath string `mapstructure:"file_path"`
	} `mapstructure:"logging"`

	CrashHandler struct {
		Enabled       bool   `mapstructure:"enabled"`
		DumpDirectory string `mapstructure:"dump_directory"`
		DumpType      string `mapstructure:"dump_type"`
	} `mapstructure:"crash_handler"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.Logging.Enabled = true
	cfg.Logging.Level = "info"
	cfg.Logging.FilePath = `%TEMP%\HydraHook.log`
	cfg.CrashHandler.DumpType = "normal"
	return cfg
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("hydrahook")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("HYDRAHOOK")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config, cfgFile string) error {
	viper.Set("direct3d.hook_d3d9", cfg.Direct3D.HookD3D9)
	viper.Set("direct3d.hook_d3d10", cfg.Direct3D.HookD3D10)
	viper.Set("direct3d.hook_d3d11", cfg.Direct3D.HookD3D11)
	viper.Set("direct3d.hook_d3d12", cfg.Direct3D.HookD3D12)
	viper.Set("core_audio.hook_core_audio", cfg.CoreAudio.HookCoreAudio)
	viper.Set("logging.enabled", cfg.Logging.Enabled)
	viper.Set("logging.level", cfg.Logging.Level)
	viper.Set("logging.file_path", cfg.Logging.FilePath)
	viper.Set("crash_handler.enabled", cfg.CrashHandler.Enabled)
	viper.Set("crash_handler.dump_directory", cfg.CrashHandler.DumpDirectory)
	viper.Set("crash_handler.dump_type", cfg.CrashHandler.DumpType)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "hydrahook.yaml")
		if err := os.MkdirAll(configDir(), 0o700); err != nil {
			return err
		}
	}

	return viper.WriteConfigAs(cfgPath)
}

// ToAPI converts the file form into the engine's configuration struct.
func (c *Config) ToAPI() api.Config {
	var out api.Config
	out.Direct3D.HookD3D9 = c.Direct3D.HookD3D9
	out.Direct3D.HookD3D10 = c.Direct3D.HookD3D10
	out.Direct3D.HookD3D11 = c.Direct3D.HookD3D11
	out.Direct3D.HookD3D12 = c.Direct3D.HookD3D12
	out.CoreAudio.HookCoreAudio = c.CoreAudio.HookCoreAudio
	out.Logging.Enabled = c.Logging.Enabled
	out.Logging.Level = c.Logging.Level
	out.Logging.FilePath = c.Logging.FilePath
	out.CrashHandler.Enabled = c.CrashHandler.Enabled
	out.CrashHandler.DumpDirectory = c.CrashHandler.DumpDirectory
	out.CrashHandler.DumpType = dumpType(c.CrashHandler.DumpType)
	return out
}

func dumpType(s string) api.DumpType {
	switch s {
	case "minimal":
		return api.DumpTypeMinimal
	case "full":
		return api.DumpTypeFull
	default:
		return api.DumpTypeNormal
	}
}

func configDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("ProgramData"), "HydraHook")
	}
	return "/etc/hydrahook"
}
