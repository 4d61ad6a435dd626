package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"

	"github.com/nerrad567/knxlog/internal/bridges/knx"
)

// TestRun_Version verifies --version prints and exits without a config.
func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"--version"}, &out); err != nil {
		t.Fatalf("run(--version) error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "knxlog "+version) {
		t.Errorf("version output = %q", out.String())
	}
}

// TestRun_Help verifies --help surfaces pflag.ErrHelp for main to swallow.
func TestRun_Help(t *testing.T) {
	err := run(context.Background(), []string{"--help"}, io.Discard)
	if !errors.Is(err, pflag.ErrHelp) {
		t.Errorf("run(--help) error = %v, want pflag.ErrHelp", err)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	if err := run(context.Background(), []string{"--bogus"}, io.Discard); err == nil {
		t.Error("run() should fail on an unknown flag")
	}
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, []string{"--config", "/nonexistent/path/config.yaml"}, io.Discard)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want a config error", err)
	}
}

func TestRun_MissingAddressBook(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, "tcp://127.0.0.1:1", filepath.Join(dir, "missing.csv"))

	err := run(context.Background(), []string{"--config", configPath}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "loading address book") {
		t.Errorf("run() error = %v, want address book error", err)
	}
}

func TestRun_KNXDUnreachable(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, "unix://"+filepath.Join(dir, "no-such-socket"), writeAddressBook(t, dir))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx, []string{"--config", configPath}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "connecting to knxd") {
		t.Errorf("run() error = %v, want knxd error", err)
	}
	// The database is opened before knxd is dialled.
	if _, statErr := os.Stat(filepath.Join(dir, "knxlog.db")); statErr != nil {
		t.Errorf("database file not created: %v", statErr)
	}
}

func TestGetConfigPath(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{name: "default", want: defaultConfigPath},
		{name: "env override", env: "/custom/env.yaml", want: "/custom/env.yaml"},
		{name: "flag wins over env", flag: "/custom/flag.yaml", env: "/custom/env.yaml", want: "/custom/flag.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(configEnv, tt.env)
			if got := getConfigPath(tt.flag); got != tt.want {
				t.Errorf("getConfigPath(%q) = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}
}

// TestRun_EndToEnd starts the full pipeline against a fake knxd, sends
// one temperature telegram and checks both tables before shutting down.
func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	srv := newFakeKNXD(t)
	configPath := writeConfig(t, dir, srv.URL(), writeAddressBook(t, dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"--config", configPath}, io.Discard)
	}()

	conn := srv.waitClient(t)
	// 1.1.4 writes 21.7 °C to 5/0/2.
	pkt := []byte{0x11, 0x04, 0x28, 0x02, 0x00, knx.APCIWrite, 0x0C, 0x3D}
	if _, err := conn.Write(knx.EncodeKNXDMessage(knx.EIBGroupPacket, pkt)); err != nil {
		t.Fatalf("sending telegram: %v", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "knxlog.db")+"?_busy_timeout=5000")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var value float64
	deadline := time.Now().Add(10 * time.Second)
	for {
		err = db.QueryRow("SELECT value FROM data_5_0_2_9_001 ORDER BY ts DESC LIMIT 1").Scan(&value)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("point row never appeared: %v", err)
	}
	if value < 21.69 || value > 21.71 {
		t.Errorf("stored value = %v, want 21.7", value)
	}

	var auditRows int
	if err := db.QueryRow("SELECT COUNT(*) FROM knx_log").Scan(&auditRows); err != nil {
		t.Fatalf("counting audit rows: %v", err)
	}
	if auditRows != 1 {
		t.Errorf("audit rows = %d, want 1", auditRows)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want clean shutdown", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func writeAddressBook(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "groupaddresses.yaml")
	data := "datapoints:\n" +
		"  - {ga: 5/0/2, name: EG-Temperatur-Kueche, dpt: DPST-9-1}\n" +
		"  - {ga: 1/0/9, name: Flur-Licht, dpt: DPST-1-1}\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("failed to write address book: %v", err)
	}
	return path
}

func writeConfig(t *testing.T, dir, knxdURL, registryPath string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	content := `
site:
  id: test-site
  timezone: UTC

knxd:
  connection: "` + knxdURL + `"
  connect_timeout: 2
  read_timeout: 1
  reconnect_interval: 1

registry:
  path: "` + registryPath + `"

database:
  driver: sqlite3
  path: "` + filepath.Join(dir, "knxlog.db") + `"
  wal_mode: true
  busy_timeout: 5

pipeline:
  poll_interval: 1
  reconnect_interval: 1
  health_timeout: 2
  retention_months: 3

influxdb:
  enabled: false

mqtt:
  enabled: false

metrics:
  enabled: true
  listen: "127.0.0.1:0"

logging:
  level: debug
  format: text
  output: stderr
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// fakeKNXD answers the GROUPCON handshake on a loopback TCP port.
type fakeKNXD struct {
	listener net.Listener
	clients  chan net.Conn
}

func newFakeKNXD(t *testing.T) *fakeKNXD {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeKNXD{listener: ln, clients: make(chan net.Conn, 4)}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if s.handshake(conn) {
				s.clients <- conn
			}
		}
	}()
	return s
}

func (s *fakeKNXD) handshake(conn net.Conn) bool {
	head := make([]byte, 4)
	if _, err := io.ReadFull(conn, head); err != nil {
		return false
	}
	size := binary.BigEndian.Uint16(head[:2])
	if size > 2 {
		if _, err := io.ReadFull(conn, make([]byte, size-2)); err != nil {
			return false
		}
	}
	if binary.BigEndian.Uint16(head[2:4]) != knx.EIBOpenGroupCon {
		return false
	}
	_, err := conn.Write(knx.EncodeKNXDMessage(knx.EIBOpenGroupCon, nil))
	return err == nil
}

func (s *fakeKNXD) URL() string {
	return "tcp://" + s.listener.Addr().String()
}

func (s *fakeKNXD) waitClient(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-s.clients:
		return conn
	case <-time.After(10 * time.Second):
		t.Fatal("knxlog never connected to fake knxd")
		return nil
	}
}
