// Package wizard provides an interactive onboarding prompt for fileup.
//
// The `fileup wizard` subcommand runs this prompt: it collects the server
// host, port, display name and file path with a charmbracelet/huh form
// and writes transfer.info in the exact three-line layout spec §4.2
// requires. Other subcommands do not start it when transfer.info is
// missing; they fail with the load error.
package wizard

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	hintStyle  = lipgloss.NewStyle().Faint(true)
)

// Answers holds the values the wizard collected, already validated.
type Answers struct {
	Host     string
	Port     int
	Name     string
	FilePath string
}

// Run prompts the user interactively and returns their answers. It does
// not write transfer.info itself; callers combine Run with Write so
// tests can exercise the two independently.
func Run() (Answers, error) {
	fmt.Println(titleStyle.Render("fileup setup"))
	fmt.Println(hintStyle.Render("No transfer.info found. Let's create one."))

	var host, portStr, name, path string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server host").
				Description("Dotted-quad IPv4 address of the file-upload server").
				Value(&host).
				Validate(validateHost),
			huh.NewInput().
				Title("Server port").
				Value(&portStr).
				Validate(validatePort),
			huh.NewInput().
				Title("Display name").
				Description("Sent to the server on REGISTER/RECONNECT").
				Value(&name).
				Validate(huh.ValidateNotEmpty()),
			huh.NewInput().
				Title("File to send").
				Value(&path).
				Validate(validateFile),
		),
	)

	if err := form.Run(); err != nil {
		return Answers{}, fmt.Errorf("wizard: %w", err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Answers{}, fmt.Errorf("wizard: invalid port %q: %w", portStr, err)
	}

	return Answers{Host: host, Port: port, Name: name, FilePath: path}, nil
}

func validateHost(s string) error {
	if s == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func validatePort(s string) error {
	port, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port must be a number")
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be in [0, 65535]")
	}
	return nil
}

func validateFile(s string) error {
	if s == "" {
		return fmt.Errorf("file path is required")
	}
	if _, err := os.Stat(s); err != nil {
		return fmt.Errorf("cannot access %q: %w", s, err)
	}
	return nil
}

// Write persists answers as transfer.info in dir, in the three-line
// layout spec §4.2 requires: "host:port" on line 1, display name on
// line 2, file path on line 3.
func Write(dir string, a Answers) error {
	content := fmt.Sprintf("%s:%d\n%s\n%s\n", a.Host, a.Port, a.Name, a.FilePath)
	path := filepath.Join(dir, "transfer.info")

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
		return fmt.Errorf("wizard: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("wizard: rename %s: %w", tmp, err)
	}
	return nil
}
