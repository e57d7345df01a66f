package stream

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/google/uuid"
)

// unitTemplate is the transient ffmpeg unit installed per push process.
// Restart=always delegates crash-restart of the process to systemd; the
// orchestration layer only decides when to start and stop.
const unitTemplate = `[Unit]
Description=Streamcast Live Stream - {{.Description}}
After=network.target

[Service]
Type=simple
ExecStart={{.FFmpegPath}} -re -stream_loop -1 -i "{{.SourcePath}}" -c:v libx264 -preset veryfast -maxrate 3000k -bufsize 6000k -pix_fmt yuv420p -g 50 -c:a aac -b:a 160k -ac 2 -ar 44100 -f flv "{{.IngestURL}}"
Restart=always
RestartSec=5
User=root
StandardOutput=journal
StandardError=journal

[Install]
WantedBy=multi-user.target
`

// SystemdConfig holds systemd adapter settings.
type SystemdConfig struct {
	UnitDir    string
	FFmpegPath string
	OpTimeout  time.Duration
}

// SystemdAdapter manages push processes as systemd units over D-Bus.
type SystemdAdapter struct {
	conn      *dbus.Conn
	unitDir   string
	ffmpeg    string
	opTimeout time.Duration
	tmpl      *template.Template
}

// NewSystemdAdapter connects to the system bus and returns a ready adapter.
func NewSystemdAdapter(ctx context.Context, cfg SystemdConfig) (*SystemdAdapter, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}

	return &SystemdAdapter{
		conn:      conn,
		unitDir:   cfg.UnitDir,
		ffmpeg:    cfg.FFmpegPath,
		opTimeout: cfg.OpTimeout,
		tmpl:      template.Must(template.New("unit").Parse(unitTemplate)),
	}, nil
}

// Close closes the D-Bus connection.
func (a *SystemdAdapter) Close() error {
	a.conn.Close()
	return nil
}

// Create writes a unit file for the session's push process, enables it and
// starts it, returning the unit name and main PID as the process handle.
func (a *SystemdAdapter) Create(ctx context.Context, desc Descriptor) (ProcessHandle, error) {
	serviceName := fmt.Sprintf("stream-%s-%s", desc.SessionID, uuid.New().String()[:8])
	unitName := serviceName + ".service"

	var unit strings.Builder
	err := a.tmpl.Execute(&unit, map[string]string{
		"Description": desc.SourceName,
		"FFmpegPath":  a.ffmpeg,
		"SourcePath":  desc.SourcePath,
		"IngestURL":   desc.IngestURL,
	})
	if err != nil {
		return ProcessHandle{}, fmt.Errorf("%w: rendering unit file: %v", ErrStartFailed, err)
	}

	unitPath := filepath.Join(a.unitDir, unitName)
	if err := os.WriteFile(unitPath, []byte(unit.String()), 0o644); err != nil {
		return ProcessHandle{}, fmt.Errorf("%w: writing unit file: %v", ErrStartFailed, err)
	}

	opCtx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	if err := a.conn.ReloadContext(opCtx); err != nil {
		a.removeUnitFile(unitPath)
		return ProcessHandle{}, fmt.Errorf("%w: daemon-reload: %v", ErrStartFailed, err)
	}

	if _, _, err := a.conn.EnableUnitFilesContext(opCtx, []string{unitName}, false, true); err != nil {
		a.removeUnitFile(unitPath)
		return ProcessHandle{}, fmt.Errorf("%w: enabling %s: %v", ErrStartFailed, unitName, err)
	}

	done := make(chan string, 1)
	if _, err := a.conn.StartUnitContext(opCtx, unitName, "replace", done); err != nil {
		a.removeUnitFile(unitPath)
		return ProcessHandle{}, fmt.Errorf("%w: starting %s: %v", ErrStartFailed, unitName, err)
	}

	select {
	case result := <-done:
		if result != "done" {
			a.removeUnitFile(unitPath)
			return ProcessHandle{}, fmt.Errorf("%w: %s start job finished with %q", ErrStartFailed, unitName, result)
		}
	case <-opCtx.Done():
		return ProcessHandle{}, fmt.Errorf("%w: waiting for %s start job: %v", ErrStartFailed, unitName, opCtx.Err())
	}

	pid := a.mainPID(opCtx, unitName)

	slog.Info("Started stream unit", "service_name", serviceName, "pid", pid)

	return ProcessHandle{ServiceName: serviceName, PID: pid}, nil
}

// Destroy stops and disables the unit and removes its file.
func (a *SystemdAdapter) Destroy(ctx context.Context, serviceName string) error {
	unitName := serviceName + ".service"

	opCtx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	if _, err := a.conn.StopUnitContext(opCtx, unitName, "replace", nil); err != nil {
		return fmt.Errorf("%w: stopping %s: %v", ErrStopFailed, unitName, err)
	}

	if _, err := a.conn.DisableUnitFilesContext(opCtx, []string{unitName}, false); err != nil {
		slog.Warn("Failed to disable stream unit", "service_name", serviceName, "error", err)
	}

	a.removeUnitFile(filepath.Join(a.unitDir, unitName))

	if err := a.conn.ReloadContext(opCtx); err != nil {
		slog.Warn("Failed to reload systemd after unit removal", "service_name", serviceName, "error", err)
	}

	slog.Info("Stopped stream unit", "service_name", serviceName)
	return nil
}

// IsRunning probes the unit's ActiveState. A missing unit reads as not running.
func (a *SystemdAdapter) IsRunning(ctx context.Context, serviceName string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	props, err := a.conn.GetUnitPropertiesContext(opCtx, serviceName+".service")
	if err != nil {
		return false, nil
	}

	state, _ := props["ActiveState"].(string)
	return state == "active", nil
}

func (a *SystemdAdapter) mainPID(ctx context.Context, unitName string) int {
	props, err := a.conn.GetUnitPropertiesContext(ctx, unitName)
	if err != nil {
		slog.Warn("Failed to read unit properties", "unit", unitName, "error", err)
		return 0
	}
	if pid, ok := props["MainPID"].(uint32); ok {
		return int(pid)
	}
	return 0
}

func (a *SystemdAdapter) removeUnitFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove unit file", "path", path, "error", err)
	}
}
