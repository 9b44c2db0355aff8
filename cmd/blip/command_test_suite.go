package main

import (
	"bytes"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blip/internal/testutils"
	"github.com/srg/blip/internal/transport"
	"github.com/srg/blip/pkg/config"
)

// CommandTestSuite swaps the BLE backend for a fake whose event stream holds
// a single power-on and is already closed. Commands run their full setup,
// drain the stream, and return without touching a radio.
type CommandTestSuite struct {
	suite.Suite
	originalFactory func(*config.Config, *logrus.Logger) (transport.Central, error)

	// LastCentral is the fake handed to the most recent command run.
	LastCentral *testutils.FakeCentral
}

// SetupSuite runs once before all tests in the suite
func (s *CommandTestSuite) SetupSuite() {
	s.originalFactory = centralFactory
	centralFactory = func(cfg *config.Config, logger *logrus.Logger) (transport.Central, error) {
		fc := testutils.NewFakeCentral()
		fc.Emit(transport.AdapterStateEvent{State: transport.AdapterPoweredOn})
		fc.Close()
		s.LastCentral = fc
		return fc, nil
	}
}

// TearDownSuite runs once after all tests in the suite
func (s *CommandTestSuite) TearDownSuite() {
	centralFactory = s.originalFactory
}

// ExecuteCommand runs a cobra command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// CaptureStdout executes fn while capturing stdout, returns captured output.
// Stdout is restored even if fn panics.
func (s *CommandTestSuite) CaptureStdout(fn func()) string {
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	s.Require().NoError(err, "pipe creation MUST succeed")
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	fn()

	w.Close()
	out, _ := io.ReadAll(r)
	return string(out)
}

// newTestRoot wraps a subcommand in a fresh root carrying the persistent
// flags the real root defines, so command runs do not share state.
func newTestRoot(sub *cobra.Command) *cobra.Command {
	root := &cobra.Command{Use: "blip"}
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("config", "", "Path to YAML config file")
	root.AddCommand(sub)
	return root
}
