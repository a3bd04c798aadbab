// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/adam/internal/ontology"
)

func newOntologyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ontology",
		Short: "Validate and inspect the control ontology",
	}

	validate := &cobra.Command{
		Use:   "validate [path]",
		Short: "Check an ontology file; defaults to the configured one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := a.cfg.Ontology.Path
			if len(args) == 1 {
				path = args[0]
			}
			ont, err := ontology.Load(path)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.out.JSON(map[string]any{
					"path":     path,
					"valid":    true,
					"version":  ont.Version,
					"controls": len(ont.Controls),
					"edges":    len(ont.PropagationGraph),
				})
			}
			a.out.Success(fmt.Sprintf("%s is valid: version %s, %d controls, %d propagation edges",
				path, ont.Version, len(ont.Controls), len(ont.PropagationGraph)))
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the configured ontology with defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ont, err := a.loadOntology()
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.out.JSON(ont)
			}
			data, err := ontology.Marshal(ont)
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}

	schema := &cobra.Command{
		Use:         "schema",
		Short:       "Print the ontology JSON Schema",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := a.stdout.Write(ontology.Schema())
			return err
		},
	}

	cmd.AddCommand(validate, show, schema)
	return cmd
}
