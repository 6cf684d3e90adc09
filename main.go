package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ipahook/common"
	"ipahook/instrument"
	"ipahook/services"
	"ipahook/storage"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ipahook",
	Short: "Patch iOS application archives with a hook payload",
	Long: `ipahook swaps the main executable of an .ipa bundle for a hook
binary, injects the mussel helper and tags Info.plist with an encoded
handler endpoint. The original executable is preserved inside the bundle
as "<name>.hooked" so a patch can be reverted.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		common.InitLogger(viper.GetBool("debug"))
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.ipahook/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "verbose console logging")
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(patchCmd())
	rootCmd.AddCommand(revertCmd())
	rootCmd.AddCommand(serveCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(common.AppDirs.WorkingDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("IPAHOOK")
	viper.AutomaticEnv()
	// A missing config file is fine; flags and env cover everything.
	viper.ReadInConfig()
}

func patchCmd() *cobra.Command {
	var host, hook, mussel string
	var port int
	cmd := &cobra.Command{
		Use:   "patch <ipa>",
		Short: "Swap the bundle executable for the hook binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if host == "" {
				host = viper.GetString("host")
			}
			if port == 0 {
				port = viper.GetInt("port")
			}
			path, err := common.DownloadIfURL(args[0])
			if err != nil {
				return err
			}
			patcher := &instrument.Patcher{
				Hook:     hook,
				Mussel:   mussel,
				Tag:      common.EndpointTag(host, port),
				Progress: common.LogProgress{},
			}
			if err := patcher.PatchIPA(path); err != nil {
				return err
			}
			recordRun("patch", path, patcher.Tag)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "handler host encoded into the bundle tag")
	cmd.Flags().IntVar(&port, "port", 0, "handler port encoded into the bundle tag")
	cmd.Flags().StringVar(&hook, "hook", common.DefaultHookPath(), "replacement executable")
	cmd.Flags().StringVar(&mussel, "mussel", common.DefaultMusselPath(), "helper binary")
	return cmd
}

func revertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revert <ipa>",
		Short: "Restore a previously patched archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patcher := &instrument.Patcher{
				Progress: common.LogProgress{},
			}
			if err := patcher.RevertIPA(args[0]); err != nil {
				return err
			}
			recordRun("revert", args[0], "")
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, hook, mussel string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			user := viper.GetString("user")
			key := viper.GetString("key")
			if user == "" || key == "" {
				return fmt.Errorf("both user and key must be configured to serve")
			}
			secret := viper.GetString("secret")
			if secret == "" {
				secret = randomSecret()
			}
			services.ConfigureAuth(user, key, secret)

			store, err := storage.Open(common.DefaultStorePath())
			if err != nil {
				return err
			}
			defer store.Close()

			return services.NewServer(hook, mussel, store).Run(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":4723", "listen address")
	cmd.Flags().StringVar(&hook, "hook", common.DefaultHookPath(), "replacement executable")
	cmd.Flags().StringVar(&mussel, "mussel", common.DefaultMusselPath(), "helper binary")
	cmd.Flags().String("user", "", "API username")
	cmd.Flags().String("key", "", "API access key")
	viper.BindPFlag("user", cmd.Flags().Lookup("user"))
	viper.BindPFlag("key", cmd.Flags().Lookup("key"))
	return cmd
}

// recordRun appends the completed run to the history database. History is
// advisory; a record failure is logged, not surfaced.
func recordRun(action, path, tag string) {
	store, err := storage.Open(common.DefaultStorePath())
	if err != nil {
		common.Log.Warnf("history unavailable: %v", err)
		return
	}
	defer store.Close()
	rec := common.PatchRecord{
		ID:          uuid.NewString(),
		Action:      action,
		ArchivePath: path,
		Tag:         tag,
		CompletedAt: time.Now().UTC(),
	}
	if err := store.Put(rec); err != nil {
		common.Log.Warnf("history write failed: %v", err)
	}
}

// randomSecret generates a per-process JWT secret when none is configured.
// Tokens issued with it expire when the process does.
func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}
