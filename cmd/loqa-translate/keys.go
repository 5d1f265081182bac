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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-translate/internal/keys"
	"github.com/loqalabs/loqa-translate/internal/security"
)

func newKeysCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect and select provider API keys",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List configured keys (masked) and the current selection",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(cmd.Context(), appOptions{configPath: *configPath})
				if err != nil {
					return err
				}
				defer a.Close()
				return printKeys(cmd.OutOrStdout(), a.keys.Snapshot())
			},
		},
		&cobra.Command{
			Use:   "rotate <service>",
			Short: "Advance the service to its next key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(cmd.Context(), appOptions{configPath: *configPath})
				if err != nil {
					return err
				}
				defer a.Close()

				service := args[0]
				next, ok := a.keys.Rotate(cmd.Context(), service, a.keys.GetCurrentKey(service))
				if !ok {
					return fmt.Errorf("no alternative key configured for %s", service)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s now uses %s\n", service, security.MaskKey(next))
				return nil
			},
		},
		&cobra.Command{
			Use:   "use <service> <key-suffix>",
			Short: "Select the key ending with key-suffix",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(cmd.Context(), appOptions{configPath: *configPath})
				if err != nil {
					return err
				}
				defer a.Close()

				service := args[0]
				key, err := a.keys.FindBySuffix(service, args[1])
				if err != nil {
					return err
				}
				if err := a.keys.SetCurrentKey(cmd.Context(), service, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s now uses %s\n", service, security.MaskKey(key))
				return nil
			},
		},
	)
	return cmd
}

func printKeys(w io.Writer, creds []keys.Credential) error {
	if len(creds) == 0 {
		_, err := fmt.Fprintln(w, "No API keys configured")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tKEY\tCURRENT")
	for _, cred := range creds {
		for _, key := range cred.Keys {
			marker := ""
			if key == cred.Current {
				marker = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", cred.Service, security.MaskKey(key), marker)
		}
	}
	return tw.Flush()
}
