package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Evasc0/BTS-PIMS/internal/types"
)

var importCmd = &cobra.Command{
	Use:   "import <dump.json>",
	Short: "Replace local data with a legacy JSON dump",
	Long: "Reads a JSON export of a pre-existing installation and loads it " +
		"into the local database. All existing rows are replaced in one " +
		"transaction; records without sync metadata are normalized on the way in.",
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read dump: %w", err)
	}

	var dump types.LegacyDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return fmt.Errorf("parse dump: %w", err)
	}

	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.ImportLegacyDump(cmd.Context(), &dump); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"imported %d employees, %d products, %d returns, %d activity logs, %d settings\n",
		len(dump.Employees), len(dump.Products), len(dump.Returns),
		len(dump.ActivityLogs), len(dump.Settings))
	return nil
}
