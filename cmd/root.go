////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package cmd initializes the CLI and config parsers as well as the logger.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
	"gitlab.com/elixxir/ekv"

	"gitlab.com/elixxir/prefsync/drafts"
	"gitlab.com/elixxir/prefsync/gateway"
	"gitlab.com/elixxir/prefsync/prefs"
)

// loadTimeout bounds how long the demo waits for the initial load.
const loadTimeout = 5 * time.Second

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// rootCmd represents the base command when called without any subcommands.
// It opens a file-backed account-detail store, attaches the settings and
// draft stores to it, applies any edits given by flags, and dumps the
// resulting state.
var rootCmd = &cobra.Command{
	Use: "prefsync",
	Short: "Synchronizes user preferences and drafts through an " +
		"account-detail store",
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		initLog(viper.GetUint("logLevel"), viper.GetString("logPath"))

		accountID := viper.GetString("account")
		deviceID := viper.GetString("device")

		fs, err := ekv.NewFilestore(viper.GetString("session"),
			viper.GetString("password"))
		if err != nil {
			jww.FATAL.Panicf("failed to open session store: %+v", err)
		}

		gw := gateway.NewStore(fs)
		writer := gateway.NewWriter(gw)

		settings := prefs.NewStore(gw, writer, deviceID)
		draftStore := drafts.NewStore(gw, writer, deviceID,
			viper.GetDuration("debounce"))

		gw.RegisterListener(settings.OnAccountDetailsChanged)
		gw.RegisterListener(draftStore.OnAccountDetailsChanged)

		settings.ObserveAccount(accountID)
		draftStore.ObserveAccount(accountID)
		if !settings.WaitUntilLoaded(loadTimeout) ||
			!draftStore.WaitUntilLoaded(loadTimeout) {
			jww.FATAL.Panicf("initial load did not complete within %s",
				loadTimeout)
		}

		if theme := viper.GetString("theme"); theme != "" {
			settings.UpdateTheme(parseTheme(theme))
		}
		if language := viper.GetString("language"); language != "" {
			settings.UpdateLanguage(language)
		}
		if draft := viper.GetString("draft"); draft != "" {
			conversationID := viper.GetString("conversation")
			if conversationID == "" {
				jww.FATAL.Panicf("--draft requires --conversation")
			}
			draftStore.UpdateDraft(conversationID, draft)
		}

		draftStore.StopObserving()
		settings.StopObserving()
		writer.Stop()

		dumpState(gw, accountID)
	},
}

// parseTheme maps a flag value onto a theme, defaulting to system.
func parseTheme(name string) prefs.Theme {
	switch name {
	case "light":
		return prefs.ThemeLight
	case "dark":
		return prefs.ThemeDark
	default:
		return prefs.ThemeSystem
	}
}

// dumpState prints the stored account details as indented JSON.
func dumpState(gw gateway.AccountGateway, accountID string) {
	details, err := gw.GetAccountDetails(accountID)
	if err != nil {
		jww.FATAL.Panicf("failed to read back details: %+v", err)
	}
	out, err := json.MarshalIndent(details, "", "  ")
	if err != nil {
		jww.FATAL.Panicf("failed to render details: %+v", err)
	}
	fmt.Println(string(out))
}

func initLog(threshold uint, logPath string) {
	if logPath != "-" && logPath != "" {
		// Disable stdout output
		jww.SetStdoutOutput(io.Discard)
		// Use log file
		logOutput, err := os.OpenFile(logPath,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			panic(err.Error())
		}
		jww.SetLogOutput(logOutput)
	}

	if threshold > 1 {
		jww.INFO.Printf("log level set to: TRACE")
		jww.SetStdoutThreshold(jww.LevelTrace)
		jww.SetLogThreshold(jww.LevelTrace)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	} else if threshold == 1 {
		jww.INFO.Printf("log level set to: DEBUG")
		jww.SetStdoutThreshold(jww.LevelDebug)
		jww.SetLogThreshold(jww.LevelDebug)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	} else {
		jww.INFO.Printf("log level set to: INFO")
		jww.SetStdoutThreshold(jww.LevelInfo)
		jww.SetLogThreshold(jww.LevelInfo)
	}
}

// init is the initialization function for Cobra which defines commands
// and flags.
func init() {
	rootCmd.PersistentFlags().UintP("logLevel", "v", 0,
		"Verbose mode for debugging")
	viper.BindPFlag("logLevel", rootCmd.PersistentFlags().Lookup("logLevel"))

	rootCmd.PersistentFlags().StringP("logPath", "l", "-",
		"Path to log output, \"-\" for stdout")
	viper.BindPFlag("logPath", rootCmd.PersistentFlags().Lookup("logPath"))

	rootCmd.PersistentFlags().StringP("session", "s", ".prefsync",
		"Sets the storage directory for the account-detail store")
	viper.BindPFlag("session", rootCmd.PersistentFlags().Lookup("session"))

	rootCmd.PersistentFlags().StringP("password", "p", "",
		"Password for the account-detail store")
	viper.BindPFlag("password", rootCmd.PersistentFlags().Lookup("password"))

	rootCmd.PersistentFlags().StringP("account", "a", "default",
		"Account whose preferences are synchronized")
	viper.BindPFlag("account", rootCmd.PersistentFlags().Lookup("account"))

	rootCmd.PersistentFlags().StringP("device", "d", "cli",
		"Stable identifier for this device")
	viper.BindPFlag("device", rootCmd.PersistentFlags().Lookup("device"))

	rootCmd.PersistentFlags().Duration("debounce",
		drafts.DefaultDebounceDelay,
		"Quiet period before a draft edit is persisted")
	viper.BindPFlag("debounce", rootCmd.PersistentFlags().Lookup("debounce"))

	rootCmd.Flags().String("theme", "",
		"Set the UI theme (system, light, dark)")
	viper.BindPFlag("theme", rootCmd.Flags().Lookup("theme"))

	rootCmd.Flags().String("language", "",
		"Set the UI language")
	viper.BindPFlag("language", rootCmd.Flags().Lookup("language"))

	rootCmd.Flags().String("conversation", "",
		"Conversation ID for draft edits")
	viper.BindPFlag("conversation", rootCmd.Flags().Lookup("conversation"))

	rootCmd.Flags().String("draft", "",
		"Set the draft text for --conversation")
	viper.BindPFlag("draft", rootCmd.Flags().Lookup("draft"))
}
