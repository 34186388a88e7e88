package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/mvnd/pkg/calibration"
	"github.com/charlie0129/mvnd/pkg/driver"
)

func parseFloatArg(arg string, valueName string) (float64, error) {
	value, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}
	return value, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(b))
	return nil
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func statusText(s driver.Status) string {
	switch s {
	case driver.StatusRecording:
		return color.New(color.Bold, color.FgGreen).Sprint(s)
	case driver.StatusCalibratedAndReadyToRecord, driver.StatusConnected:
		return color.New(color.Bold, color.FgCyan).Sprint(s)
	case driver.StatusScanning, driver.StatusCalibrating:
		return color.New(color.Bold, color.FgYellow).Sprint(s)
	case driver.StatusUnknown:
		return color.New(color.Bold, color.FgRed).Sprint(s)
	default:
		return bold("%s", s)
	}
}

func qualityText(q calibration.Quality, minimum calibration.Quality) string {
	switch {
	case q == calibration.QualityUnknown:
		return bold("%s", q)
	case q >= minimum:
		return color.New(color.Bold, color.FgGreen).Sprint(q)
	default:
		return color.New(color.Bold, color.FgRed).Sprint(q)
	}
}
