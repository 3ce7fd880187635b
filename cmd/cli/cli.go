package cli

import (
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"

	"github.com/canopy-network/accord/cmd/rpc"
	"github.com/canopy-network/accord/lib"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "accord",
	Short: "a byzantine fault tolerant agreement engine",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(rpc.SoftwareVersion)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the default configuration, or write it to the data directory with --write",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := lib.DefaultConfig()
		c.DataDirPath = DataDir
		if writeConfig {
			path := filepath.Join(DataDir, lib.ConfigFilePath)
			if err := c.WriteToFile(path); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		}
		bz, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return lib.ErrJSONMarshal(err)
		}
		fmt.Println(string(bz))
		return nil
	},
}

var (
	DataDir     = ""
	writeConfig = false
)

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.PersistentFlags().StringVar(&DataDir, "data-dir", lib.DefaultDataDirPath(), "custom data directory location")
	configCmd.Flags().BoolVar(&writeConfig, "write", false, "write the default configuration to <data-dir>/config.json")
}

// Execute() runs the command line
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
