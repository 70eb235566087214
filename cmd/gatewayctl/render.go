package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"ai_gateway/internal/models"
	"ai_gateway/internal/nodes"
	"ai_gateway/internal/router"
)

func okMark() string {
	return color.GreenString("✓")
}

func statusLabel(s models.HealthStatus) string {
	switch s {
	case models.HealthOnline:
		return color.GreenString(string(s))
	case models.HealthOffline:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func renderNodes(list []models.InferenceNode) string {
	if len(list) == 0 {
		return "No nodes registered\n"
	}

	var sb strings.Builder
	sb.WriteString(color.CyanString("Inference Nodes\n"))
	sb.WriteString(strings.Repeat("─", 60) + "\n")

	for _, n := range list {
		visibility := "private"
		if n.IsPublic {
			visibility = "public"
		}
		fmt.Fprintf(&sb, "%-4d %-24s %-26s %s %s\n",
			n.ID, n.Name, fmt.Sprintf("%s:%d", n.Hostname, n.Port),
			statusLabel(n.Status), color.HiBlackString(visibility))

		if n.LastSeen != nil {
			line := "last seen " + n.LastSeen.Local().Format("2006-01-02 15:04:05")
			if n.LastResponseTimeMS != nil {
				line += fmt.Sprintf(", %dms", *n.LastResponseTimeMS)
			}
			fmt.Fprintf(&sb, "     %s\n", color.HiBlackString(line))
		}
		if len(n.AdvertisedModels) > 0 {
			fmt.Fprintf(&sb, "     models: %s\n", strings.Join(n.AdvertisedModels, ", "))
		}
	}
	return sb.String()
}

func renderHealthEvent(ev nodes.HealthEvent) string {
	line := fmt.Sprintf("%s node %d (%s) is %s",
		color.HiBlackString(ev.At.Local().Format("15:04:05")), ev.NodeID, ev.Name, statusLabel(ev.Status))
	if ev.LatencyMS != nil {
		line += fmt.Sprintf(" in %dms", *ev.LatencyMS)
	}
	if len(ev.AdvertisedModels) > 0 {
		line += " [" + strings.Join(ev.AdvertisedModels, ", ") + "]"
	}
	return line
}

func renderModels(options []router.ModelOption) string {
	if len(options) == 0 {
		return "No models available\n"
	}

	var sb strings.Builder
	sb.WriteString(color.CyanString("Available Models\n"))
	sb.WriteString(strings.Repeat("─", 60) + "\n")
	for _, o := range options {
		fmt.Fprintf(&sb, "%-40s %s\n", o.ID, color.HiBlackString(o.Display))
	}
	return sb.String()
}

func renderCredentials(creds []models.MaskedCredential) string {
	if len(creds) == 0 {
		return "No credentials stored\n"
	}

	var sb strings.Builder
	for _, c := range creds {
		fmt.Fprintf(&sb, "%-12s %-16s", c.Provider, c.MaskedKey)
		if c.DefaultModel != "" {
			fmt.Fprintf(&sb, " default=%s", c.DefaultModel)
		}
		sb.WriteString(" " + color.HiBlackString("updated "+c.UpdatedAt.Local().Format("2006-01-02")) + "\n")
	}
	return sb.String()
}
