package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/mvnd/pkg/types"
)

func NewBodyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "body",
		Short:   "Show or set body dimensions of the suit model",
		GroupID: gSuit,
		Long: `Show or set body dimensions of the suit model, in meters.

Dimensions are applied to the connected suit only. Put them in the config file to apply them on every connect.`,
		Example: `  mvnd body get
  mvnd body get bodyHeight
  mvnd body set bodyHeight=1.82 footSize=0.28`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get [name]",
			Short: "Show body dimensions",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if len(args) == 1 {
					v, err := apiClient.GetBodyDimension(args[0])
					if err != nil {
						return err
					}
					cmd.Printf("%g\n", v)
					return nil
				}

				dims, err := apiClient.GetBodyDimensions()
				if err != nil {
					return err
				}
				printDimensions(cmd, dims)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set name=value...",
			Short: "Set body dimensions",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				dims, err := parseDimensions(args)
				if err != nil {
					return err
				}
				applied, err := apiClient.SetBodyDimensions(dims)
				if err != nil {
					return err
				}
				logrus.Infof("successfully set %d body dimension(s)", len(dims))
				printDimensions(cmd, applied)
				return nil
			},
		},
	)

	return cmd
}

func parseDimensions(args []string) (types.BodyDimensions, error) {
	dims := types.BodyDimensions{}
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid body dimension %q, expected name=value", arg)
		}
		v, err := parseFloatArg(value, name)
		if err != nil {
			return nil, err
		}
		dims[name] = v
	}
	return dims, nil
}

func printDimensions(cmd *cobra.Command, dims types.BodyDimensions) {
	names := make([]string, 0, len(dims))
	for n := range dims {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		cmd.Printf("  %s: %s\n", n, bold("%.3f m", dims[n]))
	}
}
