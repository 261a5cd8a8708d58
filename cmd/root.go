// Package cmd contains the CLI setup and commands exposed to the user
package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pliu/friends/internal/config"
)

var (
	ConfigFile string
	cfg        *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "friends",
	Short: "Peer-to-peer chat over a swarm of websocket links",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		log.Printf("using config file: %s", ConfigFile)
		loaded, err := config.Load(viper.GetViper(), ConfigFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err.Error())
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ConfigFile, "config", config.DefaultFile(), "config file")

	rootCmd.PersistentFlags().String("db-driver", "sqlite3", "database driver (sqlite3, sqlite or postgres)")
	rootCmd.PersistentFlags().String("db-dsn", "", "database connection string")

	_ = viper.BindPFlag("database.driver", rootCmd.PersistentFlags().Lookup("db-driver"))
	_ = viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db-dsn"))
}
