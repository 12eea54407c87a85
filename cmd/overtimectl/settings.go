package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/onnwee/overtime-timer/backend/store"
)

func newSettingsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the conversion and general settings",
	}
	cmd.AddCommand(newTiersCmd(opts), newDonationSettingsCmd(opts), newGeneralCmd(opts))
	return cmd
}

// settingsMethod picks GET, PUT or DELETE from the reset flag and whether any value flag changed.
func settingsMethod(cmd *cobra.Command, reset bool, names ...string) string {
	if reset {
		return http.MethodDelete
	}
	for _, n := range names {
		if cmd.Flags().Changed(n) {
			return http.MethodPut
		}
	}
	return http.MethodGet
}

func newTiersCmd(opts *options) *cobra.Command {
	var t store.TierSettings
	var reset bool
	cmd := &cobra.Command{
		Use:   "tiers",
		Short: "Minutes added per subscription tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := opts.client()
			method := settingsMethod(cmd, reset, "tier1", "tier2", "tier3")
			var body any
			if method == http.MethodPut {
				var cur store.TierSettings
				if err := c.do(cmd.Context(), http.MethodGet, "/api/settings/tiers", nil, &cur); err != nil {
					return err
				}
				if !cmd.Flags().Changed("tier1") {
					t.Tier1 = cur.Tier1
				}
				if !cmd.Flags().Changed("tier2") {
					t.Tier2 = cur.Tier2
				}
				if !cmd.Flags().Changed("tier3") {
					t.Tier3 = cur.Tier3
				}
				body = t
			}
			var out store.TierSettings
			if err := c.do(cmd.Context(), method, "/api/settings/tiers", body, &out); err != nil {
				return err
			}
			return render(cmd, opts, out, func() string {
				return fmt.Sprintf("tier 1: %d min\ntier 2: %d min\ntier 3: %d min", out.Tier1, out.Tier2, out.Tier3)
			})
		},
	}
	cmd.Flags().IntVar(&t.Tier1, "tier1", 0, "Minutes for tier 1 and Prime subs")
	cmd.Flags().IntVar(&t.Tier2, "tier2", 0, "Minutes for tier 2 subs")
	cmd.Flags().IntVar(&t.Tier3, "tier3", 0, "Minutes for tier 3 subs")
	cmd.Flags().BoolVar(&reset, "reset", false, "Restore the defaults")
	return cmd
}

func newDonationSettingsCmd(opts *options) *cobra.Command {
	var d store.DonationSettings
	var reset bool
	cmd := &cobra.Command{
		Use:   "donation",
		Short: "Bits to minutes conversion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := opts.client()
			method := settingsMethod(cmd, reset, "rate", "min-amount", "max-time")
			var body any
			if method == http.MethodPut {
				var cur store.DonationSettings
				if err := c.do(cmd.Context(), http.MethodGet, "/api/settings/donation", nil, &cur); err != nil {
					return err
				}
				if !cmd.Flags().Changed("rate") {
					d.Rate = cur.Rate
				}
				if !cmd.Flags().Changed("min-amount") {
					d.MinAmount = cur.MinAmount
				}
				if !cmd.Flags().Changed("max-time") {
					d.MaxTime = cur.MaxTime
				}
				body = d
			}
			var out store.DonationSettings
			if err := c.do(cmd.Context(), method, "/api/settings/donation", body, &out); err != nil {
				return err
			}
			return render(cmd, opts, out, func() string {
				return fmt.Sprintf("rate: %g min/bit\nminimum: %d bits\ncap: %d min", out.Rate, out.MinAmount, out.MaxTime)
			})
		},
	}
	cmd.Flags().Float64Var(&d.Rate, "rate", 0, "Minutes per bit")
	cmd.Flags().IntVar(&d.MinAmount, "min-amount", 0, "Smallest donation in bits that adds time")
	cmd.Flags().IntVar(&d.MaxTime, "max-time", 0, "Cap in minutes per donation")
	cmd.Flags().BoolVar(&reset, "reset", false, "Restore the defaults")
	return cmd
}

func newGeneralCmd(opts *options) *cobra.Command {
	var sound, autosave bool
	var warning int
	cmd := &cobra.Command{
		Use:   "general",
		Short: "Sound, warning threshold and autosave",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			method := http.MethodGet
			patch := map[string]any{}
			if cmd.Flags().Changed("sound") {
				patch["soundEnabled"] = sound
			}
			if cmd.Flags().Changed("warning") {
				patch["warningTime"] = warning
			}
			if cmd.Flags().Changed("autosave") {
				patch["autoSave"] = autosave
			}
			var body any
			if len(patch) > 0 {
				method, body = http.MethodPut, patch
			}
			var out store.GeneralSettings
			if err := opts.client().do(cmd.Context(), method, "/api/settings/general", body, &out); err != nil {
				return err
			}
			return render(cmd, opts, out, func() string {
				return fmt.Sprintf("sound: %t\nwarning: %ds\nautosave: %t", out.SoundEnabled, out.WarningTime, out.AutoSave)
			})
		},
	}
	cmd.Flags().BoolVar(&sound, "sound", true, "Play audible cues")
	cmd.Flags().IntVar(&warning, "warning", 300, "Warning threshold in seconds")
	cmd.Flags().BoolVar(&autosave, "autosave", true, "Checkpoint the running countdown every second")
	return cmd
}
