// Package render draws the scan pipeline diagram for a terminal.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ahrav/scanwatch/internal/domain/progress"
)

var (
	completedColor = color.New(color.FgGreen)
	activeColor    = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
	pendingColor   = color.New(color.Faint)
)

func markerFor(status progress.NodeStatus) string {
	switch status {
	case progress.NodeStatusCompleted:
		return completedColor.Sprint("[done]")
	case progress.NodeStatusActive:
		return activeColor.Sprint("[....]")
	case progress.NodeStatusError:
		return errorColor.Sprint("[fail]")
	default:
		return pendingColor.Sprint("[    ]")
	}
}

// Pipeline writes one line per pipeline node, grouped by order so parallel
// nodes appear side by side, followed by a progress detail line.
func Pipeline(w io.Writer, snap progress.Snapshot) {
	graph := progress.GraphFor(snap.Kind)

	var prevOrder = -1
	for _, node := range graph.Nodes {
		if node.Order == prevOrder {
			fmt.Fprintf(w, "          %s %s\n", markerFor(snap.Nodes[node.ID]), node.Label)
			continue
		}
		prevOrder = node.Order

		connector := "  "
		if node.Order > 0 {
			connector = "->"
		}
		fmt.Fprintf(w, "       %s %s %s\n", connector, markerFor(snap.Nodes[node.ID]), node.Label)
	}

	if detail := detailLine(snap); detail != "" {
		fmt.Fprintf(w, "  %s\n", detail)
	}
}

func detailLine(snap progress.Snapshot) string {
	evt := snap.Event

	switch snap.Phase {
	case progress.PhaseStarting:
		return "starting scan..."

	case progress.PhaseRunning:
		var parts []string
		if evt.TotalAssets > 0 {
			parts = append(parts, fmt.Sprintf("assets %d/%d", evt.AssetsScanned, evt.TotalAssets))
		}
		if evt.PublicCount > 0 || evt.PrivateCount > 0 {
			parts = append(parts, fmt.Sprintf("public %d, private %d", evt.PublicCount, evt.PrivateCount))
		}
		if evt.TotalRepos > 0 {
			parts = append(parts, fmt.Sprintf("repos %d/%d", evt.ReposScanned, evt.TotalRepos))
		}
		if evt.CurrentRepo != "" {
			parts = append(parts, evt.CurrentRepo)
		}
		return strings.Join(parts, " | ")

	case progress.PhaseComplete:
		counted := evt.AssetCount
		noun := "assets"
		if snap.Kind == progress.ScanKindRepo {
			counted = evt.RepoCount
			noun = "repos"
		}
		line := completedColor.Sprintf("scan complete: %d %s, %d issues", counted, noun, evt.IssueCount)
		if evt.ActiveExploitsDetected > 0 {
			line += errorColor.Sprintf(" (%d active exploits)", evt.ActiveExploitsDetected)
		}
		return line

	case progress.PhaseError:
		if evt.Message != "" {
			return errorColor.Sprintf("scan failed: %s", evt.Message)
		}
		return errorColor.Sprint("scan failed")

	case progress.PhaseCancelled:
		return pendingColor.Sprint("scan dismissed")
	}

	return ""
}
