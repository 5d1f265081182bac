/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-translate/internal/translation"
)

func newTranslateCmd(configPath *string) *cobra.Command {
	var (
		file     string
		prompt   string
		provider string
	)

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate one request JSON from a file or stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), appOptions{configPath: *configPath, provider: provider})
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.orchestrator.TranslateJSON(cmd.Context(), string(input), prompt)
			if err != nil {
				if !translation.IsSurfaced(err) {
					// Silent failure: nothing to print, the attempt is in the history.
					return nil
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "request JSON file (default stdin)")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "override the configured prompt")
	cmd.Flags().StringVar(&provider, "provider", "", "override the active provider")
	return cmd
}

// readInput reads file, or stdin when file is empty or "-"
func readInput(stdin io.Reader, file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	return data, nil
}
