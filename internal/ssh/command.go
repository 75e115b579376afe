package ssh

import (
	"strings"

	"fleetbot/internal/models"
)

// BuildCommand renders the remote command line for a job:
//
//	<script> <address>
//	<script> --force <address>
//	<script> --all
//
// The script is inserted verbatim (it may carry sudo); arguments are quoted.
func BuildCommand(script string, job models.Job) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(script))
	switch job.Mode {
	case models.ModeAll:
		b.WriteString(" --all")
	case models.ModeForce:
		b.WriteString(" --force ")
		b.WriteString(shellEscape(job.Address))
	default:
		b.WriteByte(' ')
		b.WriteString(shellEscape(job.Address))
	}
	return b.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
