package main

import (
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/openmined/driftlink/internal/statusactor"
)

var (
	statusGreen = color.New(color.FgHiGreen).SprintFunc()
	statusRed   = color.New(color.FgHiRed).SprintFunc()
	statusCyan  = color.New(color.FgHiCyan).SprintFunc()
	statusGrey  = color.New(color.FgHiBlack).SprintFunc()
)

// cliPresenter implements statusactor.Presenter by printing icon/tooltip
// transitions to stdout, standing in for the tray UI spec.md §6 places
// outside the core.
type cliPresenter struct{}

func newCLIPresenter() *cliPresenter {
	return &cliPresenter{}
}

func (p *cliPresenter) SetImage(token string) {
	fmt.Println(colorizeIcon(token))
}

func (p *cliPresenter) SetTooltip(text string) {
	slog.Info("status", "tooltip", text)
}

func colorizeIcon(token string) string {
	switch token {
	case statusactor.IconBlueTick, statusactor.IconBlueSync:
		return statusCyan(token)
	case statusactor.IconGreenTick:
		return statusGreen(token)
	case statusactor.IconRedCross:
		return statusRed(token)
	case statusactor.IconGreyDash:
		return statusGrey(token)
	default:
		return token
	}
}
