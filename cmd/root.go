package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/takato23/sparkrelay/internal/application/constant"
)

var rootCmd = &cobra.Command{
	Use:   "sparkrelay",
	Short: "sparkrelay is the realtime relay for live polls, quizzes and word clouds.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env необязателен, переменные окружения важнее
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			slog.Warn("load .env", slog.Any(constant.Error, err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		runApp()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
