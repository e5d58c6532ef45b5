package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/neurolink/internal/profile"
)

func newProfileCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show, create or erase your cognitive profile",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the saved profile",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withStore(cmd.Context(), func(ctx context.Context, s profile.Store) error {
					p, err := s.Load(ctx)
					if errors.Is(err, profile.ErrNotFound) {
						fmt.Fprintln(cmd.OutOrStdout(), "No profile yet. Run `neurolink profile init` to create one.")
						return nil
					} else if err != nil {
						return err
					}
					printProfile(cmd.OutOrStdout(), p)
					return nil
				})
			},
		},
		newProfileInitCmd(c),
		&cobra.Command{
			Use:   "upgrade",
			Short: "Switch the saved profile to the PREMIUM tier",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withStore(cmd.Context(), func(ctx context.Context, s profile.Store) error {
					p, err := s.Load(ctx)
					if err != nil {
						return err
					}
					p.Tier = profile.TierPremium
					if err := s.Save(ctx, p); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Tier set to PREMIUM. Live audio unlocked.")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Erase the saved profile",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withStore(cmd.Context(), func(ctx context.Context, s profile.Store) error {
					if err := s.Erase(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "Profile erased.")
					return nil
				})
			},
		},
	)
	return cmd
}

func newProfileInitCmd(c *cli) *cobra.Command {
	var (
		name, course, tier string
		age                int
		strengths, goals   []string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create (or replace) the profile with onboarding baselines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := profile.New(name, age, course, strengths, goals)
			p.Tier = profile.Tier(strings.ToUpper(tier))
			return c.withStore(cmd.Context(), func(ctx context.Context, s profile.Store) error {
				if err := s.Save(ctx, p); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Profile synchronized.")
				printProfile(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "name", "", "your name")
	f.IntVar(&age, "age", 0, "your age")
	f.StringVar(&course, "course", "", "course or field of study")
	f.StringSliceVar(&strengths, "strength", nil, "strength area (repeatable)")
	f.StringSliceVar(&goals, "goal", nil, "focus goal (repeatable)")
	f.StringVar(&tier, "tier", string(profile.TierFree), "membership tier: FREE or PREMIUM")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("age")
	return cmd
}

// withStore opens the configured profile store for the duration of fn.
func (c *cli) withStore(ctx context.Context, fn func(context.Context, profile.Store) error) error {
	s, err := profile.Open(ctx, c.cfg.Profile)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func printProfile(w io.Writer, p *profile.Profile) {
	fmt.Fprintf(w, "Name:          %s\n", p.Name)
	fmt.Fprintf(w, "Age:           %d\n", p.Age)
	if p.Course != "" {
		fmt.Fprintf(w, "Course:        %s\n", p.Course)
	}
	if len(p.StrengthAreas) > 0 {
		fmt.Fprintf(w, "Strengths:     %s\n", strings.Join(p.StrengthAreas, ", "))
	}
	if len(p.FocusGoals) > 0 {
		fmt.Fprintf(w, "Focus goals:   %s\n", strings.Join(p.FocusGoals, ", "))
	}
	fmt.Fprintf(w, "Cognitive:     %.1f\n", p.CognitiveScore)
	fmt.Fprintf(w, "Productivity:  %.1f\n", p.ProductivityLevel)
	fmt.Fprintf(w, "IQ baseline:   %d\n", p.IQBaseline)
	fmt.Fprintf(w, "Tier:          %s\n", p.Tier)
}
