package daemon

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/sirupsen/logrus"
)

var (
	unitName = "mvnd.service"
	unitPath = "/etc/systemd/system/" + unitName
)

// UnitOptions fill the systemd unit.
type UnitOptions struct {
	ExePath            string
	ConfigPath         string
	SocketPath         string
	AllowNonRootAccess bool
}

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=Xsens MVN suit driver daemon
After=network.target

[Service]
Type=simple
ExecStart={{ .ExePath }} daemon --config {{ .ConfigPath }} --daemon-socket {{ .SocketPath }}{{ if .AllowNonRootAccess }} --always-allow-non-root-access{{ end }}
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`))

// Unit renders the systemd unit for opts.
func Unit(opts UnitOptions) (string, error) {
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, opts); err != nil {
		return "", fmt.Errorf("failed to render unit: %w", err)
	}
	return buf.String(), nil
}

// Install writes the systemd unit for the current executable and starts it.
func Install(opts UnitOptions) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	err = os.Chmod(exePath, 0755)
	if err != nil {
		return fmt.Errorf("failed to chmod the current executable to 0755: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)
	opts.ExePath = exePath

	unit, err := Unit(opts)
	if err != nil {
		return err
	}

	// warn if the file already exists
	_, err = os.Stat(unitPath)
	if err == nil {
		logrus.Warnf("%s already exists, overwriting", unitPath)
	}

	logrus.Infof("writing systemd unit to %s", unitPath)
	err = os.WriteFile(unitPath, []byte(unit), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", unitPath, err)
	}

	logrus.Infof("starting mvnd")

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", unitName)
}

func systemctl(args ...string) error {
	out, err := exec.Command("systemctl", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %v failed: %w: %s", args, err, bytes.TrimSpace(out))
	}
	return nil
}
