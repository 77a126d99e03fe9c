package strategy

import "strings"

// OptimizeCommand rewrites a shell command to suit the active
// scenario: trimming verbose output under starved bandwidth, adding
// resume and retry flags on shaky links, enabling compression through
// the relay. Best-effort and purely textual; unknown commands pass
// through untouched.
func OptimizeCommand(sc Scenario, command string) string {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return command
	}
	switch sc {
	case ScenarioLowBandwidth:
		if strings.Contains(cmd, "ls") && strings.Contains(cmd, "-la") {
			cmd = strings.Replace(cmd, "-la", "-l", 1)
		}
		if strings.Contains(cmd, "ping") && !strings.Contains(cmd, "-c") {
			cmd += " -c 3"
		}
		if strings.Contains(cmd, "find") && !strings.Contains(cmd, "-type") {
			cmd += " -type f"
		}
	case ScenarioVeryLowBandwidth:
		if strings.Contains(cmd, "ls") {
			cmd = strings.Replace(cmd, " -la", "", 1)
			cmd = strings.Replace(cmd, " -l", "", 1)
		}
		if strings.Contains(cmd, "ping") {
			cmd = strings.Replace(cmd, "-c 3", "-c 1", 1)
		}
		if strings.Contains(cmd, "df") {
			cmd = strings.Replace(cmd, " -h", "", 1)
		}
	case ScenarioHighLatency, ScenarioVeryHighLatency:
		if strings.Contains(cmd, "apt") || strings.Contains(cmd, "yum") {
			if !strings.Contains(cmd, "-y") {
				cmd += " -y"
			}
		}
		if strings.Contains(cmd, "scp") && !strings.Contains(cmd, "-C") {
			cmd += " -C"
		}
	case ScenarioUnstable, ScenarioVeryUnstable:
		if strings.Contains(cmd, "wget") && !strings.Contains(cmd, "-c") {
			cmd += " -c"
		}
		if strings.Contains(cmd, "curl") && !strings.Contains(cmd, "--retry") {
			cmd += " --retry 3"
		}
	case ScenarioProxyTransfer:
		if strings.Contains(cmd, "rsync") && !strings.Contains(cmd, "-z") {
			cmd += " -z"
		}
		if strings.Contains(cmd, "ssh") && !strings.Contains(cmd, "-C") {
			cmd += " -C"
		}
	}
	return cmd
}
