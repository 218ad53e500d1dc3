package ui

import (
	"fmt"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// BannerInfo is what the startup banner shows.
type BannerInfo struct {
	Version  string
	Model    string
	CWD      string
	Backends int
	Tools    int
	Offline  []string
}

func (u *UI) DrawBanner(info BannerInfo) {
	fmt.Fprintln(u.out, Banner(info))
}

func Banner(info BannerInfo) string {
	borderColor := lipgloss.Color("#D97757")
	borderStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Padding(0, 2)
	titleStyle := lipgloss.NewStyle().Bold(true)
	infoStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#7D7D7D"))
	warnStyle := lipgloss.NewStyle().Foreground(borderColor)

	cwd := info.CWD
	if len(cwd) > 40 {
		cwd = "…/" + filepath.Base(cwd)
	}

	lines := []string{
		titleStyle.Render(fmt.Sprintf("Welcome to mcpchat %s, %s!", info.Version, username())),
		"",
		infoStyle.Render(fmt.Sprintf("model  %s", info.Model)),
		infoStyle.Render(fmt.Sprintf("tools  %d from %d backends", info.Tools, info.Backends)),
		infoStyle.Render(fmt.Sprintf("cwd    %s", cwd)),
	}
	if len(info.Offline) > 0 {
		lines = append(lines, warnStyle.Render("offline: "+strings.Join(info.Offline, ", ")))
	}
	lines = append(lines, "", infoStyle.Render("/ for commands, Esc to quit"))

	return borderStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func username() string {
	current, err := user.Current()
	if err != nil || current == nil {
		return "there"
	}
	if names := strings.Fields(current.Name); len(names) > 0 {
		return names[0]
	}
	if current.Username != "" {
		return current.Username
	}
	return "there"
}
