package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platewise/mealsync/internal/config"
	"github.com/platewise/mealsync/internal/storage"
	"github.com/platewise/mealsync/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted engine state",
	Long: `Show the persisted session, connectivity flag, active plan, and the
number of pending sync intents. Reads the snapshot directly; the engine
does not need to be running.`,
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

		data, ok, err := st.LoadSnapshot(cfg.Namespace)
		if err != nil {
			return err
		}

		var state store.State
		if ok {
			if err := json.Unmarshal(data, &state); err != nil {
				return fmt.Errorf("failed to decode snapshot: %w", err)
			}
		}

		pending, err := st.CountIntents(cfg.Namespace)
		if err != nil {
			return err
		}

		if state.Session.Authenticated() {
			fmt.Printf("Session:   %s\n", state.Session.UserID)
		} else {
			fmt.Println("Session:   anonymous (local-only)")
		}
		if state.Online {
			fmt.Println("Network:   online")
		} else {
			fmt.Println("Network:   offline")
		}
		if state.Plan != nil {
			fmt.Printf("Plan:      %s (%d meals)\n", state.Plan.ID, len(state.Plan.Meals))
		} else {
			fmt.Println("Plan:      none")
		}
		fmt.Printf("Recipes:   %d\n", len(state.Recipes))
		fmt.Printf("Checked:   %d\n", len(state.Checked))
		fmt.Printf("Custom:    %d\n", len(state.CustomItems))
		fmt.Printf("Pending:   %d intents\n", pending)

		return nil
	},
}
