package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ehr/txengine/internal/domain/protocol"
	"github.com/ehr/txengine/internal/domain/treatment"
)

// parseSignFlag parses a "kind=value" sign given on the command line.
func parseSignFlag(s string) (protocol.Sign, error) {
	kind, value, ok := strings.Cut(s, "=")
	if !ok || kind == "" || value == "" {
		return protocol.Sign{}, fmt.Errorf("sign %q: expected kind=value", s)
	}
	return protocol.ParseSign(protocol.SignKind(strings.TrimSpace(kind)), strings.TrimSpace(value))
}

func parseSignFlags(in []string) ([]protocol.Sign, error) {
	out := make([]protocol.Sign, 0, len(in))
	for _, s := range in {
		sign, err := parseSignFlag(s)
		if err != nil {
			return nil, err
		}
		out = append(out, sign)
	}
	return out, nil
}

// resolveProtocols looks up names in the catalog in the order given.
func resolveProtocols(c *protocol.Catalog, names []string) ([]protocol.Protocol, error) {
	out := make([]protocol.Protocol, 0, len(names))
	for _, name := range names {
		p, ok := c.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown protocol %q (known: %s)", name, strings.Join(c.Names(), ", "))
		}
		out = append(out, p)
	}
	return out, nil
}

// currentSet builds the starting treatment set from order labels, taking
// each order's target from the protocols being evaluated.
func currentSet(patient protocol.Patient, protocols []protocol.Protocol, orders []string) (protocol.PatientTreatment, error) {
	targets := map[protocol.Order]protocol.Target{}
	for _, p := range protocols {
		for _, s := range p.Steps() {
			targets[s.Treatment.Order] = s.Treatment.Target
		}
	}
	pt := protocol.NewPatientTreatment(patient)
	for _, label := range orders {
		o := protocol.Order(label)
		t, ok := targets[o]
		if !ok {
			return pt, fmt.Errorf("order %q is not part of the selected protocols", label)
		}
		pt = pt.Add(protocol.NewTreatment(t, o))
	}
	return pt, nil
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate signs against catalog protocols without a database",
		Example: `  txengine evaluate --protocol pain --sign pain_score=3
  txengine evaluate --protocol blood-pressure --sign blood_pressure=40 \
      --sign central_venous_line=true --rounds 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, _ := cmd.Flags().GetStringSlice("protocol")
			signFlags, _ := cmd.Flags().GetStringArray("sign")
			active, _ := cmd.Flags().GetStringSlice("active")
			rounds, _ := cmd.Flags().GetInt("rounds")
			patientID, _ := cmd.Flags().GetString("patient")
			file, _ := cmd.Flags().GetString("protocols-file")

			if rounds < 1 {
				return fmt.Errorf("--rounds must be at least 1")
			}
			catalog, err := loadCatalog(file)
			if err != nil {
				return err
			}
			protocols, err := resolveProtocols(catalog, names)
			if err != nil {
				return err
			}
			signs, err := parseSignFlags(signFlags)
			if err != nil {
				return err
			}
			patient := protocol.NewPatient(patientID)
			set, err := currentSet(patient, protocols, active)
			if err != nil {
				return err
			}

			return runEvaluation(cmd.OutOrStdout(), protocols, signs, set, rounds)
		},
	}
	cmd.Flags().StringSlice("protocol", []string{"pain"}, "Protocols to evaluate, in order")
	cmd.Flags().StringArray("sign", nil, "Observed sign as kind=value (repeatable)")
	cmd.Flags().StringSlice("active", nil, "Orders already active before the first round")
	cmd.Flags().Int("rounds", 1, "Number of successive evaluations with the same signs")
	cmd.Flags().String("patient", "patient", "Patient identifier shown in the output")
	cmd.Flags().String("protocols-file", "", "Additional protocol definitions (YAML, JSON or TOML)")
	return cmd
}

// runEvaluation evaluates the protocols rounds times, feeding each result
// into the next round, and prints the trace of every round.
func runEvaluation(w io.Writer, protocols []protocol.Protocol, signs []protocol.Sign, set protocol.PatientTreatment, rounds int) error {
	fmt.Fprintf(w, "patient %s signs %v\n", set.Patient(), signs)
	for round := 1; round <= rounds; round++ {
		fmt.Fprintf(w, "round %d\n", round)
		next := protocol.EvaluateAll(protocols, signs, set, protocol.WithTrace(func(line string) {
			fmt.Fprintf(w, "  %s\n", line)
		}))
		added, removed := set.Diff(next)
		fmt.Fprintf(w, "  added: %v removed: %v\n", added, removed)
		set = next
	}
	fmt.Fprintf(w, "active: %v\n", set.Orders())
	return nil
}

func protocolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "protocols",
		Short: "List catalog protocols",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("protocols-file")
			catalog, err := loadCatalog(file)
			if err != nil {
				return err
			}
			printProtocols(cmd.OutOrStdout(), catalog)
			return nil
		},
	}
	cmd.Flags().String("protocols-file", "", "Additional protocol definitions (YAML, JSON or TOML)")
	return cmd
}

func printProtocols(w io.Writer, c *protocol.Catalog) {
	for _, name := range c.Names() {
		p, _ := c.Get(name)
		v := treatment.NewProtocolView(p)
		fmt.Fprintln(w, v.Name)
		for i, s := range v.Steps {
			conds := "always"
			if len(s.Conditions) > 0 {
				conds = strings.Join(s.Conditions, " and ")
			}
			fmt.Fprintf(w, "  %d. %s until %s, when %s\n", i+1, s.Order, s.Target, conds)
		}
	}
}
