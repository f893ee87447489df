package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/platewise/mealsync/internal/config"
	"github.com/platewise/mealsync/internal/storage"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List pending sync intents",
	Long: `List queued mutations awaiting upload, in the order they will drain.

An intent stays queued until its remote call succeeds; a drain halts at
the first failure so later intents never apply before earlier ones.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		st, err := storage.Open(cfg.StoragePath)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.InitSchema(); err != nil {
			return err
		}

		intents, err := st.ListIntents(cfg.Namespace)
		if err != nil {
			return err
		}

		if len(intents) == 0 {
			fmt.Println("No pending intents")
			return nil
		}

		for _, in := range intents {
			age := time.Since(in.CreatedAt).Round(time.Second)
			fmt.Printf("%4d  %-8s %-7s %-36s  %s ago\n", in.Seq, in.Kind, in.Op, in.EntityID, age)
		}
		fmt.Printf("\n%d pending\n", len(intents))

		return nil
	},
}
