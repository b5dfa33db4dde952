package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/xtmscope/internal/config"
	"github.com/sw33tLie/xtmscope/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	version = "0.3.0"

	LOGO = `
	__  __ _____ __  __
	\ \/ /|_   _|  \/  |___  ___ ___  _ __   ___
	 \  /   | | | |\/| / __|/ __/ _ \| '_ \ / _ \
	 /  \   | | | |  | \__ \ (_| (_) | |_) |  __/
	/_/\_\  |_| |_|  |_|___/\___\___/| .__/ \___|
	                                 |_|
`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "xtmscope",
	Short:   "Spot known OpenCTI and OpenAEV entities in any text.",
	Version: version,
	Long: LOGO + `xtmscope keeps a local cache of the threat actors, malware, vulnerabilities, assets
and teams known to your OpenCTI and OpenAEV platforms, and finds them in pages, reports
and logs together with observables such as IPs, domains, hashes and CVEs.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.xtmscope.yaml)")

	// Global flags
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading XTMSCOPE_* variables")
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	envFile, _ := rootCmd.PersistentFlags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".xtmscope")
		viper.SetConfigType("yaml")
	}

	config.SetDefaults(viper.GetViper())
	if proxy, _ := rootCmd.PersistentFlags().GetString("proxy"); proxy != "" {
		viper.Set("http.proxy", proxy)
	}

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := filepath.Join(home, ".xtmscope.yaml")
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		} else {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	if err := utils.SetLogLevel(levelString); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadSettings decodes the settings read by initConfig.
func loadSettings() (config.Settings, error) {
	return config.Load(viper.GetViper())
}
